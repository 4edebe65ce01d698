package engine

import (
	"unicode/utf8"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
)

const maxNameLength = 256

func validateName(field, value string) *domain.Error {
	if value == "" {
		return domain.InvalidInput("%s is required", field)
	}
	if utf8.RuneCountInString(value) > maxNameLength {
		return domain.InvalidInput("%s exceeds %d characters", field, maxNameLength)
	}
	return nil
}

func validatePermissions(perms []string) *domain.Error {
	for _, p := range perms {
		if !auth.Known(p) {
			return domain.InvalidInput("unknown permission %q", p)
		}
	}
	return nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
