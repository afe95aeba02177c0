package analysis

import (
	"math"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tiktoken-go/tokenizer"
)

const codecCacheSize = 32

// codecCache keeps resolved tokenizer codecs; building one loads a BPE
// vocabulary and is too slow to repeat per report.
var codecCache = mustCodecCache()

func mustCodecCache() *lru.Cache[string, tokenizer.Codec] {
	cache, err := lru.New[string, tokenizer.Codec](codecCacheSize)
	if err != nil {
		// lru.New fails only on a non-positive size.
		panic(err)
	}
	return cache
}

// EstimateTokens approximates how many tokens text costs under model. The
// estimate is informational: no rule ever branches on it, and models the
// tokenizer does not know fall back to a rune-count heuristic.
func EstimateTokens(model, text string) int {
	if text == "" {
		return 0
	}
	if codec, err := codecForModel(model); err == nil {
		if count, err := codec.Count(text); err == nil {
			return count
		}
	}
	return estimateByLength(text)
}

func codecForModel(model string) (tokenizer.Codec, error) {
	key := strings.ToLower(strings.TrimSpace(model))
	if codec, ok := codecCache.Get(key); ok {
		return codec, nil
	}
	codec, err := tokenizer.ForModel(tokenizer.Model(key))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
	}
	if err != nil {
		return nil, err
	}
	codecCache.Add(key, codec)
	return codec, nil
}

// estimateByLength assumes roughly four runes per token, the usual rough cut
// for BPE vocabularies.
func estimateByLength(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4))
}
