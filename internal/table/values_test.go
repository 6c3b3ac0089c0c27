package table

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsMissing(t *testing.T) {
	t.Parallel()

	assert.True(t, IsMissing(nil))
	assert.True(t, IsMissing("  "))
	assert.True(t, IsMissing(math.NaN()))
	assert.True(t, IsMissing(time.Time{}))
	assert.False(t, IsMissing(0.0))
	assert.False(t, IsMissing("x"))
	assert.False(t, IsMissing(false))
}

func TestFloat(t *testing.T) {
	t.Parallel()

	v, ok := Float(" 3.5 ")
	assert.True(t, ok)
	assert.Equal(t, 3.5, v)

	_, ok = Float("nan")
	assert.False(t, ok)

	_, ok = Float("FRB 1")
	assert.False(t, ok)

	v, ok = Float(2)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", String(nil))
	assert.Equal(t, "348.772", String(348.772))
	assert.Equal(t, "2019-01-02T03:04:05Z", String(time.Date(2019, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Equal(t, "true", String(true))
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"FRB_Name":             "frb_name",
		"  Discovery Date ":    "discovery_date",
		"Obj. Type":            "obj_type",
		"rmp_pub--description": "rmp_pub_description",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeName(in), in)
	}
}

func TestUnitsCloneAndKeys(t *testing.T) {
	t.Parallel()

	u := Units{"fluence": "Jy ms", "dm": "pc cm^-3"}
	c := u.Clone()
	c["dm"] = "changed"

	assert.Equal(t, "pc cm^-3", u["dm"])
	assert.Equal(t, []string{"dm", "fluence"}, u.Keys())
}
