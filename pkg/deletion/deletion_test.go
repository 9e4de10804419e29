package deletion

import (
	"context"
	"testing"

	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestDocNameHelpers(t *testing.T) {
	assert.Equal(t, "note:abc", NoteDoc("abc"))
	assert.Equal(t, "panel:abc:%", PanelPattern("abc"))

	id, ok := NoteIDFromDoc("note:123e4567-e89b-12d3-a456-426614174000")
	assert.True(t, ok)
	assert.Equal(t, "123e4567-e89b-12d3-a456-426614174000", id)

	_, ok = NoteIDFromDoc("panel:abc:1")
	assert.False(t, ok)
	_, ok = NoteIDFromDoc("note:")
	assert.False(t, ok)
}

func TestValidateNoteID(t *testing.T) {
	assert.NoError(t, validateNoteID("123e4567-e89b-12d3-a456-426614174000"))

	err := validateNoteID("")
	assert.True(t, types.IsKind(err, types.KindValidation))

	err = validateNoteID("not-a-uuid")
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestHardDeleteRequiresConfirmation(t *testing.T) {
	// The token check runs before any storage access, so a nil store is
	// never touched.
	c := New(nil, nil)

	_, err := c.HardDelete(context.Background(), "123e4567-e89b-12d3-a456-426614174000", "")
	assert.True(t, types.IsKind(err, types.KindAuthorization))

	_, err = c.HardDelete(context.Background(), "123e4567-e89b-12d3-a456-426614174000", "delete")
	assert.True(t, types.IsKind(err, types.KindAuthorization))
}

func TestInvalidNoteIDRejectedBeforeStorage(t *testing.T) {
	c := New(nil, nil)

	_, err := c.SoftDelete(context.Background(), "::bad::")
	assert.True(t, types.IsKind(err, types.KindValidation))

	_, err = c.HardDelete(context.Background(), "::bad::", ConfirmToken)
	assert.True(t, types.IsKind(err, types.KindValidation))
}
