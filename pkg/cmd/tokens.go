package cmd

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTokens parses the API token table from its flag form,
// "token:tenant_id" pairs joined by commas.
func ParseTokens(raw string) (map[string]int64, error) {
	tokens := make(map[string]int64)

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		token, tenant, found := strings.Cut(pair, ":")
		if !found || token == "" {
			return nil, fmt.Errorf("malformed token pair %q, want token:tenant_id", pair)
		}

		tenantID, err := strconv.ParseInt(tenant, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed tenant id in %q: %w", pair, err)
		}

		tokens[token] = tenantID
	}

	if len(tokens) == 0 {
		return nil, fmt.Errorf("no API tokens configured")
	}

	return tokens, nil
}
