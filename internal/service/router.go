package service

import (
	"regexp"
	"strings"

	"github.com/alumnia/assistant/domain"
)

// RouteDecision is the intent router's verdict. When Proceed is false the
// orchestrator streams LocalResponse verbatim and no model is invoked.
type RouteDecision struct {
	Intent        domain.Intent
	Proceed       bool
	LocalResponse string
}

var (
	greetingRe = regexp.MustCompile(`(?i)^[¡!¿?\s]*(hola|buen[oa]s(\s+(d[ií]as|tardes|noches))?|hello|hi|hey|saludos|qu[eé] tal)[\s¡!.,]*$`)
	farewellRe = regexp.MustCompile(`(?i)^[¡!¿?\s]*((muchas\s+)?gracias|adi[oó]s|hasta luego|chau|nos vemos|bye|thanks|thank you|perfecto,?\s*gracias)[\s¡!.,]*$`)
	letterRe   = regexp.MustCompile(`[\p{L}\p{N}]`)
)

// Topics the assistant refuses without spending model tokens.
var offTopicKeywords = []string{
	"clima", "weather", "chiste", "joke", "f[uú]tbol", "bitcoin", "criptomoneda",
	"receta", "recipe", "horóscopo", "loter[ií]a",
}

var offTopicRe = regexp.MustCompile(`(?i)\b(` + strings.Join(offTopicKeywords, "|") + `)\b`)

const (
	greetingResponse = "¡Hola! Soy el asistente virtual de la institución. Puedo ayudarte con " +
		"información sobre programas académicos, pagos, estudiantes y asesores. ¿En qué te puedo ayudar?"
	farewellResponse = "¡Con gusto! Si necesitas algo más sobre programas, pagos o estudiantes, aquí estoy."
	spamResponse     = "No entendí tu mensaje. ¿Puedes reformularlo?"
	offTopicResponse = "Solo puedo ayudarte con temas de la institución: programas académicos, " +
		"pagos, estudiantes y asesores."
)

// Classify runs the cheap pre-classifier. It is pure heuristics and safe
// to run on every message.
func (s *Service) Classify(message, tenantID string) RouteDecision {
	trimmed := strings.TrimSpace(message)

	switch {
	case !letterRe.MatchString(trimmed):
		return RouteDecision{Intent: domain.IntentSpam, LocalResponse: spamResponse}
	case greetingRe.MatchString(trimmed):
		return RouteDecision{Intent: domain.IntentGreeting, LocalResponse: greetingResponse}
	case farewellRe.MatchString(trimmed):
		return RouteDecision{Intent: domain.IntentFarewell, LocalResponse: farewellResponse}
	case offTopicRe.MatchString(trimmed):
		return RouteDecision{Intent: domain.IntentOutOfScope, LocalResponse: offTopicResponse}
	}

	return RouteDecision{Intent: domain.IntentBusiness, Proceed: true}
}
