package assertion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXMLEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{`<a x="1" y="2"/>`, `<a y='2' x='1'></a>`, true},
		{`<?xml version="1.0"?><a/>`, `<a/>`, true},
		{`<a/><b/>`, `<a/><b/>`, true},
		{`text &amp; more`, `text &amp; more`, true},
		{`<a>1</a>`, `<a>2</a>`, false},
		{`<a><b/></a>`, `<a><c/></a>`, false},
		{`<a>`, ` <a> `, true},
		{`<a>`, `<b>`, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, XMLEqual(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}
