package automation

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/chatlink/pkg/logging"
)

// Signal is the thread-state hint a text carries.
type Signal string

const (
	SignalNone     Signal = ""
	SignalEscalate Signal = "escalate"
	SignalResolved Signal = "resolved"
)

// DefaultEscalateTerms trigger a request for human handling.
var DefaultEscalateTerms = []string{
	"reembolso", "cancelar", "cancelamento", "urgente", "não funciona", "nao funciona",
	"não está funcionando", "nao esta funcionando", "falar com atendente", "falar com um humano",
	"reclamação", "reclamacao",
	"refund", "cancel", "urgent", "not working", "doesn't work", "broken", "speak to a human",
	"talk to a person", "complaint",
}

// DefaultResolvedTerms mark the thread as resolved.
var DefaultResolvedTerms = []string{
	"resolvido", "resolveu", "pode encerrar", "pode fechar", "deu certo", "funcionou",
	"resolved", "solved", "fixed it", "works now", "all set",
}

// Detection is the result of matching one text against both vocabularies.
type Detection struct {
	Signal        Signal
	EscalateTerms []string
	ResolvedTerms []string
}

// Detector is a case-insensitive substring matcher over two fixed vocabularies.
// Matches are advisory: they can misfire and nothing corrects them later. When
// a text hits both vocabularies, escalate wins.
type Detector struct {
	escalate []string
	resolved []string
	logger   *logging.Logger
}

// NewDetector builds a detector. Empty vocabularies fall back to the defaults.
func NewDetector(escalate, resolved []string, logger *logging.Logger) *Detector {
	if len(escalate) == 0 {
		escalate = DefaultEscalateTerms
	}
	if len(resolved) == 0 {
		resolved = DefaultResolvedTerms
	}
	return &Detector{
		escalate: normalizeTerms(escalate),
		resolved: normalizeTerms(resolved),
		logger:   logging.OrDefault(logger),
	}
}

func (d *Detector) Detect(ctx context.Context, text string) Detection {
	_, span := tracer.Start(ctx, "automation.detect")
	defer span.End()

	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return Detection{}
	}
	det := Detection{
		EscalateTerms: matchTerms(lowered, d.escalate),
		ResolvedTerms: matchTerms(lowered, d.resolved),
	}
	switch {
	case len(det.EscalateTerms) > 0:
		det.Signal = SignalEscalate
	case len(det.ResolvedTerms) > 0:
		det.Signal = SignalResolved
	}
	if det.Signal != SignalNone {
		span.SetAttributes(
			attribute.String("detect.signal", string(det.Signal)),
			attribute.StringSlice("detect.escalate_terms", det.EscalateTerms),
			attribute.StringSlice("detect.resolved_terms", det.ResolvedTerms),
		)
		d.logger.Debug("vocabulary match", "signal", det.Signal, "escalate", det.EscalateTerms, "resolved", det.ResolvedTerms)
	}
	return det
}

func matchTerms(lowered string, terms []string) []string {
	var out []string
	for _, term := range terms {
		if strings.Contains(lowered, term) {
			out = append(out, term)
		}
	}
	return out
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		out = append(out, term)
	}
	return out
}
