package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_NamedStruct(t *testing.T) {
	r := Struct("Stage.TableA",
		F("key1", NewInt(5)),
		F("action", Struct("Stage.ActionB", F("param1", NewInt(7)))),
	)

	got, err := MarshalCanonical(r)
	require.NoError(t, err)

	want := `{"fields":[["key1",5],["action",{"fields":[["param1",7]],"struct":"Stage.ActionB"}]],"struct":"Stage.TableA"}`
	assert.Equal(t, want, string(got))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	got, err := MarshalCanonical(String("<a&b>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(got))
}

func TestMarshalCanonical_ControlCharacters(t *testing.T) {
	got, err := MarshalCanonical(String("a\nb\x01\"\\"))
	require.NoError(t, err)
	assert.Equal(t, `"a\nb\u0001\"\\"`, string(got))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	// "é" as e + combining acute accent normalizes to U+00E9
	decomposed, err := MarshalCanonical(String("e\u0301"))
	require.NoError(t, err)
	composed, err := MarshalCanonical(String("\u00e9"))
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonical_NilRejected(t *testing.T) {
	_, err := MarshalCanonical(Struct("T", F("x", nil)))
	assert.Error(t, err)
}

func TestCanonicalRoundTrip(t *testing.T) {
	original := Struct("Learned",
		F("port", NewInt(3)),
		F("mac", NewIntFromBytes([]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01})),
		F("up", Bool(true)),
		F("label", String("uplink")),
		F("members", Tuple{NewInt(-1), Struct("Empty")}),
	)

	data, err := MarshalCanonical(original)
	require.NoError(t, err)

	decoded, err := UnmarshalCanonical(data)
	require.NoError(t, err)

	assert.True(t, Equal(original, decoded), "decoded %s != original %s", decoded, original)
}

func TestUnmarshalCanonical_RejectsFloats(t *testing.T) {
	_, err := UnmarshalCanonical([]byte(`1.5`))
	assert.Error(t, err)
}

func TestUnmarshalCanonical_RejectsMalformedStruct(t *testing.T) {
	_, err := UnmarshalCanonical([]byte(`{"fields":[["a"]],"struct":"T"}`))
	assert.Error(t, err)

	_, err = UnmarshalCanonical([]byte(`{"fields":[]}`))
	assert.Error(t, err)
}

func TestFactID_Deterministic(t *testing.T) {
	a := Struct("T", F("x", NewInt(1)))
	b := Struct("T", F("x", NewInt(1)))
	c := Struct("T", F("x", NewInt(2)))

	assert.Equal(t, MustFactID(a), MustFactID(b))
	assert.NotEqual(t, MustFactID(a), MustFactID(c))
	assert.Len(t, MustFactID(a), 64)
}

func TestBatchHash_OrderSensitive(t *testing.T) {
	u1 := InsertOf(0, Struct("T", F("x", NewInt(1))))
	u2 := DeleteOf(0, Struct("T", F("x", NewInt(2))))

	h1, err := BatchHash([]Update{u1, u2})
	require.NoError(t, err)
	h2, err := BatchHash([]Update{u2, u1})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}
