package utils

import (
	"github.com/pkoukk/tiktoken-go"
)

// NumTokens counts tokens with the cl100k encoding. The encoding table is fetched on first
// use, so callers should fall back to EstimateTokens when this errors.
func NumTokens(text string) (int, error) {
	tkm, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0, err
	}

	return len(tkm.Encode(text, nil, nil)), nil
}

// EstimateTokens is a rough four-bytes-per-token guess.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
