package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueCoercions(t *testing.T) {
	// Engine coercion rules: text parses a numeric prefix, numbers format
	// to text, NULL is zero everywhere.
	assert.Equal(t, int64(123), TextValue("123abc").Int64())
	assert.Equal(t, int64(1), TextValue("1.5").Int64())
	assert.Equal(t, int64(0), TextValue("abc").Int64())
	assert.Equal(t, 1.5, TextValue(" 1.5 ").Float())
	assert.Equal(t, "42", Int64Value(42).Text())
	assert.Equal(t, "1.5", FloatValue(1.5).Text())
	assert.Equal(t, int32(-7), Int64Value(-7).Int32())
	assert.Equal(t, []byte("abc"), TextValue("abc").Blob())
	assert.Equal(t, "abc", BlobValue([]byte("abc")).Text())

	assert.True(t, NullValue().IsNull())
	assert.Equal(t, int64(0), NullValue().Int64())
	assert.Equal(t, "", NullValue().Text())
	assert.Nil(t, NullValue().Blob())

	assert.Equal(t, ColumnTypeInteger32, Int32Value(1).Type())
	assert.Equal(t, "integer32", ColumnTypeInteger32.String())
	assert.Equal(t, "blob", ColumnTypeBLOB.String())
}

func TestValueOfDriverTypes(t *testing.T) {
	assert.Equal(t, ColumnTypeNull, valueOf(nil).Type())
	assert.Equal(t, ColumnTypeInteger64, valueOf(int64(1)).Type())
	assert.Equal(t, ColumnTypeFloat, valueOf(1.0).Type())
	assert.Equal(t, ColumnTypeText, valueOf("x").Type())
	assert.Equal(t, ColumnTypeBLOB, valueOf([]byte("x")).Type())
	assert.Equal(t, int64(1), valueOf(true).Int64())
	assert.Equal(t, int64(0), valueOf(false).Int64())
}
