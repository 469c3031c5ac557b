package services

import (
	"context"
	"crypto/rand"
	"fmt"
)

const (
	// InvitationCodeLength is the fixed length of every invitation code.
	InvitationCodeLength = 12
	codeAlphabet         = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts      = 10
)

// CodeGenerator produces random invitation codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// RandomCodeGenerator draws codes uniformly from [A-Z0-9] using crypto/rand.
type RandomCodeGenerator struct{}

// largest multiple of 36 that fits in a byte; bytes above it are rejected so
// every symbol has the same probability.
const codeRejectAbove = 252

func (RandomCodeGenerator) Generate() (string, error) {
	out := make([]byte, 0, InvitationCodeLength)
	buf := make([]byte, InvitationCodeLength*2)
	for len(out) < InvitationCodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= codeRejectAbove {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == InvitationCodeLength {
				break
			}
		}
	}
	return string(out), nil
}

// IsValidCode reports whether code has the shape of an invitation code.
func IsValidCode(code string) bool {
	if len(code) != InvitationCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// UniqueCode generates codes until exists reports a free one, giving up with
// TransientConflict after a bounded number of attempts.
func UniqueCode(ctx context.Context, gen CodeGenerator, exists func(ctx context.Context, code string) (bool, error)) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := gen.Generate()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", storageError("check invitation code", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", newError(CodeTransientConflict, fmt.Sprintf("no free invitation code after %d attempts", maxCodeAttempts))
}
