package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProviderDeterminism(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()

	first, err := p.BatchGenerateEmbeddings(ctx, BatchGenerateEmbeddingRequest{
		Texts: []string{"cats are mammals"},
		Model: "mock-small",
	})
	require.NoError(t, err)

	second, err := p.BatchGenerateEmbeddings(ctx, BatchGenerateEmbeddingRequest{
		Texts: []string{"cats are mammals"},
		Model: "mock-small",
	})
	require.NoError(t, err)

	assert.Equal(t, first.Results[0].Embedding, second.Results[0].Embedding)
	assert.Len(t, first.Results[0].Embedding, 8)
}

func TestMockProviderPartialFailure(t *testing.T) {
	p := NewMockProvider(WithFailTexts("bad text"))

	resp, err := p.BatchGenerateEmbeddings(context.Background(), BatchGenerateEmbeddingRequest{
		Texts: []string{"good", "bad text", "also good"},
		Model: "mock-small",
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	assert.NotNil(t, resp.Results[0].Embedding)
	assert.Nil(t, resp.Results[1].Embedding)
	require.NotNil(t, resp.Results[1].Err)
	assert.Equal(t, "GENERATION_FAILED", resp.Results[1].Err.Code)
	assert.NotNil(t, resp.Results[2].Embedding)
}

func TestMockProviderPinnedVectors(t *testing.T) {
	pinned := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	p := NewMockProvider(WithPinnedVector("pinned text", pinned))

	resp, err := p.BatchGenerateEmbeddings(context.Background(), BatchGenerateEmbeddingRequest{
		Texts: []string{"pinned text"},
		Model: "mock-small",
	})
	require.NoError(t, err)
	assert.Equal(t, pinned, resp.Results[0].Embedding)
}

func TestMockProviderFailAll(t *testing.T) {
	p := NewMockProvider(WithFailAll())

	_, err := p.BatchGenerateEmbeddings(context.Background(), BatchGenerateEmbeddingRequest{
		Texts: []string{"anything"},
		Model: "mock-small",
	})
	require.Error(t, err)

	provErr, ok := err.(*ProviderError)
	require.True(t, ok)
	assert.True(t, provErr.IsRetryable)
}

func TestMockProviderUnknownModel(t *testing.T) {
	p := NewMockProvider()

	_, err := p.BatchGenerateEmbeddings(context.Background(), BatchGenerateEmbeddingRequest{
		Texts: []string{"anything"},
		Model: "no-such-model",
	})
	require.Error(t, err)
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "abc", TruncateText("abc", 10))
	assert.Equal(t, "abc", TruncateText("abcdef", 3))
	assert.Equal(t, "abcdef", TruncateText("abcdef", 0))

	// Truncation never splits a rune
	assert.Equal(t, "héll", TruncateText("héllo", 4))

	// Deterministic
	assert.Equal(t, TruncateText("abcdef", 3), TruncateText("abcdef", 3))
}
