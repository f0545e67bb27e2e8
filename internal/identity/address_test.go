package identity

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		address string
		want    Kind
	}{
		{"5511999999999@s.whatsapp.net", KindDirectPhone},
		{"5511999999999:12@s.whatsapp.net", KindDirectPhone},
		{"15551234567@c.us", KindDirectPhone},
		{"5511999999999", KindDirectPhone},
		{"204875123456789@lid", KindDirectOpaque},
		{"support@s.whatsapp.net", KindDirectOpaque},
		{"120363025246125888@g.us", KindGroup},
		{"status@broadcast", KindBroadcast},
		{"1203630@newsletter", KindBroadcast},
		// Group marker wins even when the user part looks like a phone.
		{"5511999999999-1600000000@g.us", KindGroup},
	}
	for _, tt := range tests {
		if got := Classify(tt.address); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.address, got, tt.want)
		}
	}
}

func TestPhoneFromAddressNeverFabricatesForOpaque(t *testing.T) {
	if _, ok := PhoneFromAddress("204875123456789@lid"); ok {
		t.Fatal("opaque id must not yield a phone")
	}
	phone, ok := PhoneFromAddress("5511988887777:3@s.whatsapp.net")
	if !ok || phone != "5511988887777" {
		t.Fatalf("unexpected phone %q ok=%v", phone, ok)
	}
}

func TestNormalizeDestination(t *testing.T) {
	got, err := NormalizeDestination("+55 (11) 98888-7777")
	if err != nil || got != "5511988887777@s.whatsapp.net" {
		t.Fatalf("unexpected normalized %q err=%v", got, err)
	}
	for _, marked := range []string{"204875123456789@lid", "120363025246125888@g.us", "5511988887777@s.whatsapp.net"} {
		got, err := NormalizeDestination(marked)
		if err != nil || got != marked {
			t.Fatalf("marked destination %q changed to %q (err=%v)", marked, got, err)
		}
	}
	if _, err := NormalizeDestination("call me"); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}
}

func TestCleanAddress(t *testing.T) {
	if got := CleanAddress(" 5511988887777:7@s.whatsapp.net "); got != "5511988887777@s.whatsapp.net" {
		t.Fatalf("unexpected cleaned %q", got)
	}
	if got := UserPart("204875123456789@lid"); got != "204875123456789" {
		t.Fatalf("unexpected user part %q", got)
	}
}

func TestFormatPhone(t *testing.T) {
	tests := map[string]string{
		"5511988887777": "+55 (11) 98888-7777",
		"551133334444":  "+55 (11) 3333-4444",
		"15551234567":   "+1 (555) 123-4567",
		"447911123456":  "+447911123456",
		"":              "",
	}
	for in, want := range tests {
		if got := FormatPhone(in); got != want {
			t.Errorf("FormatPhone(%q) = %q, want %q", in, got, want)
		}
	}
	if got := NormalizeE164(" +1 (555) 123-4567 "); got != "+15551234567" {
		t.Fatalf("unexpected e164 %q", got)
	}
}
