package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/chatlink/internal/connection"
	"github.com/wolfman30/chatlink/internal/messaging"
)

func TestMessages_SendNormalizesPhone(t *testing.T) {
	fx := newMessagingFixture(t)
	h := messageRoutes(NewMessagesHandler(fx.dispatcher, fx.store, nil))

	rec := doJSON(t, h, http.MethodPost, "/connections/acct/messages", map[string]string{"to": "+55 (11) 98888-7777", "text": "  oi  "})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var msg messaging.Message
	decodeBody(t, rec, &msg)
	assert.Equal(t, messaging.StatusSent, msg.Status)
	assert.Equal(t, "oi", msg.Text)
	assert.NotEmpty(t, msg.ProtocolMessageID)

	sent := fx.tr.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "5511988887777@s.whatsapp.net", sent[0].Address)
}

func TestMessages_SendErrorMapping(t *testing.T) {
	cases := []struct {
		name  string
		setup func(fx *messagingFixture)
		path  string
		body  map[string]string
		want  int
	}{
		{"missing destination", nil, "/connections/acct/messages", map[string]string{"text": "oi"}, http.StatusBadRequest},
		{"empty text", nil, "/connections/acct/messages", map[string]string{"to": "5511988887777", "text": "   "}, http.StatusBadRequest},
		{"no digits or marker", nil, "/connections/acct/messages", map[string]string{"to": "nobody", "text": "oi"}, http.StatusBadRequest},
		{"unknown instance", nil, "/connections/ghost/messages", map[string]string{"to": "5511988887777", "text": "oi"}, http.StatusNotFound},
		{"not connected", func(fx *messagingFixture) {
			fx.conns.inst.Status = connection.StatusConnecting
		}, "/connections/acct/messages", map[string]string{"to": "5511988887777", "text": "oi"}, http.StatusConflict},
		{"transport refused", func(fx *messagingFixture) {
			fx.tr.FailNextSend(errors.New("socket closed"))
		}, "/connections/acct/messages", map[string]string{"to": "5511988887777", "text": "oi"}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newMessagingFixture(t)
			if tc.setup != nil {
				tc.setup(fx)
			}
			h := messageRoutes(NewMessagesHandler(fx.dispatcher, fx.store, nil))
			rec := doJSON(t, h, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestMessages_SendFailureReturnsFailedRecord(t *testing.T) {
	fx := newMessagingFixture(t)
	fx.tr.FailNextSend(errors.New("socket closed"))
	h := messageRoutes(NewMessagesHandler(fx.dispatcher, fx.store, nil))

	rec := doJSON(t, h, http.MethodPost, "/connections/acct/messages", map[string]string{"to": "5511988887777", "text": "oi"})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body struct {
		Error   string            `json:"error"`
		Message messaging.Message `json:"message"`
	}
	decodeBody(t, rec, &body)
	assert.Contains(t, body.Error, "socket closed")
	assert.Equal(t, messaging.StatusFailed, body.Message.Status)

	all := fx.store.All()
	require.Len(t, all, 1)
	assert.Equal(t, messaging.StatusFailed, all[0].Status)
}

func TestMessages_BulkPartialFailure(t *testing.T) {
	fx := newMessagingFixture(t)
	h := messageRoutes(NewMessagesHandler(fx.dispatcher, fx.store, nil))

	body := map[string]any{
		"contacts": []map[string]string{{"address": "5511911111111"}, {"address": "bad"}, {"address": "5511933333333"}},
		"text":     "promo",
		"delay_ms": 0,
	}
	rec := doJSON(t, h, http.MethodPost, "/connections/acct/messages/bulk", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result messaging.BulkResult
	decodeBody(t, rec, &result)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, messaging.StatusFailed, result.Outcomes[1].Status)
	assert.Len(t, fx.tr.SentMessages(), 2)
}

func TestMessages_BulkOverCapCreatesNothing(t *testing.T) {
	fx := newMessagingFixture(t)
	h := messageRoutes(NewMessagesHandler(fx.dispatcher, fx.store, nil))

	contacts := []map[string]string{}
	for _, n := range []string{"1", "2", "3", "4"} {
		contacts = append(contacts, map[string]string{"address": "551190000000" + n})
	}
	rec := doJSON(t, h, http.MethodPost, "/connections/acct/messages/bulk", map[string]any{"contacts": contacts, "text": "promo"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, fx.store.All())
	assert.Empty(t, fx.tr.SentMessages())
}

func TestMessages_BulkValidation(t *testing.T) {
	fx := newMessagingFixture(t)
	h := messageRoutes(NewMessagesHandler(fx.dispatcher, fx.store, nil))

	rec := doJSON(t, h, http.MethodPost, "/connections/acct/messages/bulk", map[string]any{"contacts": []any{}, "text": "promo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/connections/acct/messages/bulk", map[string]any{
		"contacts": []map[string]string{{"address": "5511911111111"}},
		"text":     "promo",
		"delay_ms": -5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessages_Conversation(t *testing.T) {
	fx := newMessagingFixture(t)
	h := messageRoutes(NewMessagesHandler(fx.dispatcher, fx.store, nil))

	for _, text := range []string{"um", "dois", "tres"} {
		rec := doJSON(t, h, http.MethodPost, "/connections/acct/messages", map[string]string{"to": "5511988887777", "text": text})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	path := "/connections/acct/conversations/" + url.PathEscape("5511988887777@s.whatsapp.net") + "?limit=2"
	rec := doJSON(t, h, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Messages []messaging.Message `json:"messages"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "dois", body.Messages[0].Text)
	assert.Equal(t, "tres", body.Messages[1].Text)

	rec = doJSON(t, h, http.MethodGet, "/connections/acct/conversations/nobody@lid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/connections/acct/conversations/x@lid?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
