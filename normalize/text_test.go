package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t,
		[]string{"dr", "mehta", "prescribed", "paracetamol", "650mg", "for", "fever", "cough"},
		Tokenize("Dr. Mehta prescribed Paracetamol 650mg, for (fever/cough)."))
	assert.Equal(t, []string{"hba1c", "6.5"}, Tokenize("HbA1c: 6.5"))
	assert.Empty(t, Tokenize(" ... "))
}

func TestContentWords(t *testing.T) {
	assert.Equal(t,
		[]string{"patients", "diagnosed", "viral", "fever"},
		ContentWords("Which patients were diagnosed with Viral Fever?"))
	assert.True(t, IsStopWord("the"))
	assert.False(t, IsStopWord("fever"))
}
