package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	assert.Equal(t, "[config] bad key", ConfigError("bad key", nil).Error())
	assert.Equal(t, "[filesystem] move: disk full",
		FilesystemError("move", errors.New("disk full")).Error())
}

func TestIsTypeAndTypeOf_WrappedChain(t *testing.T) {
	cause := errors.New("zlib: invalid header")
	err := fmt.Errorf("page 2: %w", ImageDecodeError("decode object 12", cause))

	assert.True(t, IsType(err, ErrorTypeImageDecode))
	assert.False(t, IsType(err, ErrorTypeFilesystem))
	assert.Equal(t, ErrorTypeImageDecode, TypeOf(err))
	assert.ErrorIs(t, err, cause)

	assert.False(t, IsType(cause, ErrorTypeImageDecode))
	assert.Equal(t, ErrorType(""), TypeOf(cause))
	assert.Equal(t, ErrorType(""), TypeOf(nil))
}

func TestTypeOf_OutermostWins(t *testing.T) {
	inner := NoTablesFoundError("page 1", nil)
	outer := DocumentUnreadableError("list.pdf", inner)

	assert.Equal(t, ErrorTypeDocumentUnreadable, TypeOf(outer))
}

func TestNewIssue(t *testing.T) {
	tests := []struct {
		name string
		kind ErrorType
		err  error
		want ErrorType
	}{
		{"plain error keeps kind", ErrorTypeImageDecode, errors.New("boom"), ErrorTypeImageDecode},
		{"domain error overrides kind", ErrorTypeImageDecode, FilesystemError("write", nil), ErrorTypeFilesystem},
		{"wrapped domain error overrides kind", ErrorTypeValidation,
			fmt.Errorf("row 3: %w", PersistenceError("insert", nil)), ErrorTypePersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := NewIssue(tt.kind, 4, "P-1", tt.err)
			assert.Equal(t, tt.want, issue.Kind)
			assert.Equal(t, 4, issue.Ref)
			assert.Equal(t, "P-1", issue.PersonID)
			assert.Same(t, tt.err, issue.Err)
		})
	}
}

func TestIssue_String(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, "image_decode (ref 7): boom", Issue{Kind: ErrorTypeImageDecode, Ref: 7, Err: err}.String())
	assert.Equal(t, "filesystem (P-1): boom", Issue{Kind: ErrorTypeFilesystem, PersonID: "P-1", Err: err}.String())
	assert.Equal(t, "filesystem (ref 7, P-1): boom",
		Issue{Kind: ErrorTypeFilesystem, Ref: 7, PersonID: "P-1", Err: err}.String())
	assert.Equal(t, "validation: boom", Issue{Kind: ErrorTypeValidation, Err: err}.String())
}
