package app

import (
	"math/rand"
	"regexp"
	"strings"

	"crowdplay-room-service/internal/domain"
)

const (
	minPlayers = 1
	maxPlayers = 200

	codeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	maxDisplayNameLen = 20
)

var displayNameStrip = regexp.MustCompile(`[^a-zA-Z0-9\s_-]`)

func validateCreateRoom(in CreateRoomInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return domain.E(domain.CodeInvalidArgument, "title is required")
	}
	if in.Mode != "LIVE" && in.Mode != "ASYNC" {
		return domain.Errorf(domain.CodeInvalidArgument, "unknown mode %q", in.Mode)
	}
	if in.MaxPlayers < minPlayers || in.MaxPlayers > maxPlayers {
		return domain.Errorf(domain.CodeInvalidArgument, "max players must be between %d and %d", minPlayers, maxPlayers)
	}
	if len(in.Questions) == 0 {
		return domain.E(domain.CodeInvalidArgument, "at least one question is required")
	}
	for i, q := range in.Questions {
		if err := validateQuestion(i, q); err != nil {
			return err
		}
	}
	return nil
}

func validateQuestion(i int, q QuestionInput) error {
	if q.TimeLimitSec <= 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "question %d: time limit must be positive", i)
	}
	if q.BasePoints < 0 || q.SpeedFactor < 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "question %d: points and speed factor must not be negative", i)
	}
	switch q.Type {
	case domain.QuestionMC, domain.QuestionIMG:
		if err := validateOptions(i, q.Options); err != nil {
			return err
		}
		if q.CorrectOptionID == "" {
			return domain.Errorf(domain.CodeInvalidArgument, "question %d: correct option is required", i)
		}
		if !hasOption(q.Options, q.CorrectOptionID) {
			return domain.Errorf(domain.CodeInvalidArgument, "question %d: correct option %q is not among the options", i, q.CorrectOptionID)
		}
	case domain.QuestionPoll:
		if err := validateOptions(i, q.Options); err != nil {
			return err
		}
	case domain.QuestionTF:
		if q.CorrectOptionID != "true" && q.CorrectOptionID != "false" {
			return domain.Errorf(domain.CodeInvalidArgument, "question %d: true/false questions need a binary correct flag", i)
		}
	case domain.QuestionNum:
		if q.NumRule == nil {
			return domain.Errorf(domain.CodeInvalidArgument, "question %d: numeric questions need an exact value", i)
		}
		if q.NumRule.Tolerance < 0 {
			return domain.Errorf(domain.CodeInvalidArgument, "question %d: tolerance must not be negative", i)
		}
	default:
		return domain.Errorf(domain.CodeInvalidArgument, "question %d: unknown type %q", i, q.Type)
	}
	return nil
}

func validateOptions(i int, options []domain.Option) error {
	if len(options) < 2 {
		return domain.Errorf(domain.CodeInvalidArgument, "question %d: at least two options are required", i)
	}
	for _, opt := range options {
		if opt.ID == "" || strings.TrimSpace(opt.Text) == "" {
			return domain.Errorf(domain.CodeInvalidArgument, "question %d: options must have an id and text", i)
		}
	}
	return nil
}

func hasOption(options []domain.Option, id string) bool {
	for _, opt := range options {
		if opt.ID == id {
			return true
		}
	}
	return false
}

// sanitizeDisplayName strips everything outside [A-Za-z0-9_- ] and caps the
// length. An empty result rejects the join.
func sanitizeDisplayName(name string) string {
	cleaned := displayNameStrip.ReplaceAllString(strings.TrimSpace(name), "")
	if len(cleaned) > maxDisplayNameLen {
		cleaned = cleaned[:maxDisplayNameLen]
	}
	return strings.TrimSpace(cleaned)
}

// randomCode draws a 6-character uppercase alphanumeric room code.
func randomCode(rnd *rand.Rand) string {
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rnd.Intn(len(codeAlphabet))])
	}
	return b.String()
}
