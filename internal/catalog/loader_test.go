package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xconform/internal/engine"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

const qt3Catalog = `<?xml version="1.0"?>
<catalog xmlns="http://www.w3.org/2010/09/qt-fots-catalog" test-suite="QT3">
  <environment name="books">
    <source role="." file="data/books.xml"/>
    <namespace prefix="b" uri="urn:books"/>
  </environment>
  <test-set name="fn-abs" file="fn/abs.xml"/>
  <test-set name="op-numeric" file="op/numeric.xml"/>
</catalog>`

const qt3Abs = `<?xml version="1.0"?>
<test-set xmlns="http://www.w3.org/2010/09/qt-fots-catalog" name="fn-abs">
  <description>Tests for fn:abs</description>
  <dependency type="spec" value="XP20+"/>
  <dependency type="feature" value="higher-order-functions"/>
  <test-case name="abs-1">
    <description>integer</description>
    <test>abs(-3)</test>
    <result><assert-eq>3</assert-eq></result>
  </test-case>
  <test-case name="abs-2">
    <dependency type="spec" value="XP31+"/>
    <dependency type="feature" value="schemaImport" satisfied="false"/>
    <environment ref="books"/>
    <test>count(//book)</test>
    <result>
      <any-of>
        <assert-count>1</assert-count>
        <all-of>
          <assert-type>xs:integer</assert-type>
          <not><assert-empty/></not>
          <assert>$result gt 0</assert>
        </all-of>
      </any-of>
    </result>
  </test-case>
  <test-case name="abs-3">
    <environment>
      <source role="$doc" file="../data/books.xml"/>
      <param name="x" select="1"/>
    </environment>
    <test file="abs-3.xq"/>
    <result><error code="err:FOAR0001"/></result>
  </test-case>
</test-set>`

const qt3Numeric = `<?xml version="1.0"?>
<test-set xmlns="http://www.w3.org/2010/09/qt-fots-catalog" name="op-numeric">
  <test-case name="div-1">
    <test>1 div 0</test>
    <result><error code="FOAR0001"/></result>
  </test-case>
  <test-case name="div-2">
    <test file="missing.xq"/>
    <result><assert-eq>1</assert-eq></result>
  </test-case>
  <test-case name="div-3">
    <test>1 div 1</test>
    <result><assert-eq>"1"</assert-eq></result>
  </test-case>
</test-set>`

func qt3Fixture(t *testing.T) string {
	t.Helper()
	dir := writeFiles(t, map[string]string{
		"catalog.xml":    qt3Catalog,
		"fn/abs.xml":     qt3Abs,
		"fn/abs-3.xq":    "$doc//book div 0",
		"op/numeric.xml": qt3Numeric,
		"data/books.xml": "<books><book/></books>",
	})
	return filepath.Join(dir, "catalog.xml")
}

func TestLoad_QT3(t *testing.T) {
	path := qt3Fixture(t)

	doc, err := Load(path, "qt3")
	require.NoError(t, err)

	assert.Equal(t, "qt3", doc.Suite)
	require.Len(t, doc.Sets, 2)
	assert.Equal(t, "fn-abs", doc.Sets[0].Name)
	assert.Equal(t, "Tests for fn:abs", doc.Sets[0].Description)
	assert.Equal(t, 6, doc.Len())

	abs1, ok := doc.Lookup("fn-abs", "abs-1")
	require.True(t, ok)
	require.Nil(t, abs1.CatalogErr)
	assert.Equal(t, XPathQuery{Text: "abs(-3)"}, abs1.Definition)
	assert.Equal(t, []Assertion{StringEqual{Expected: "3", Numeric: true}}, abs1.Assertions)
	assert.Equal(t, "fn-abs/abs-1", abs1.ID())

	abs3, _ := doc.Lookup("fn-abs", "abs-3")
	require.Nil(t, abs3.CatalogErr)
	q := abs3.Definition.(XPathQuery)
	assert.Equal(t, "$doc//book div 0", q.Text)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "fn", "abs-3.xq"), q.Path)
	assert.Equal(t, []Assertion{ErrorCode{Code: "FOAR0001"}}, abs3.Assertions)
	require.NotNil(t, abs3.Environment)
	require.Len(t, abs3.Environment.Sources, 1)
	assert.Equal(t, "doc", abs3.Environment.Sources[0].Variable())
	assert.Equal(t, []Param{{Name: "x", Select: "1"}}, abs3.Environment.Params)
}

func TestLoad_QT3NamedEnvironment(t *testing.T) {
	path := qt3Fixture(t)
	doc, err := Load(path, "qt3")
	require.NoError(t, err)

	abs2, _ := doc.Lookup("fn-abs", "abs-2")
	require.Nil(t, abs2.CatalogErr)
	require.NotNil(t, abs2.Environment)
	assert.Equal(t, "books", abs2.Environment.Name)
	require.NotNil(t, abs2.Environment.Context)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data", "books.xml"), abs2.Environment.Context.Path)
	assert.Equal(t, map[string]string{"b": "urn:books"}, abs2.Environment.Namespaces)
}

func TestLoad_DependencyMergeNarrowerScopeWins(t *testing.T) {
	doc, err := Load(qt3Fixture(t), "qt3")
	require.NoError(t, err)

	abs1, _ := doc.Lookup("fn-abs", "abs-1")
	assert.Equal(t, []Dependency{
		{Kind: DepLanguage, Value: "XP20+", Satisfied: true, key: "language"},
		{Kind: DepFeature, Value: "higher-order-functions", Satisfied: true, key: "feature:higher-order-functions"},
	}, abs1.Dependencies)

	abs2, _ := doc.Lookup("fn-abs", "abs-2")
	assert.Equal(t, []Dependency{
		{Kind: DepLanguage, Value: "XP31+", Satisfied: true, key: "language"},
		{Kind: DepFeature, Value: "higher-order-functions", Satisfied: true, key: "feature:higher-order-functions"},
		{Kind: DepFeature, Value: "schemaImport", Satisfied: false, key: "feature:schemaImport"},
	}, abs2.Dependencies)
}

func TestLoad_AssertionTreeAndChecks(t *testing.T) {
	doc, err := Load(qt3Fixture(t), "qt3")
	require.NoError(t, err)

	abs2, _ := doc.Lookup("fn-abs", "abs-2")
	want := []Assertion{Combine{Mode: CombineAny, Children: []Assertion{
		CountIs{Expected: 1},
		Combine{Mode: CombineAll, Children: []Assertion{
			TypeMatch{Type: "xs:integer"},
			Not{Child: CountIs{Expected: 0}},
			Expression{ID: 1, Expr: "$result gt 0"},
		}},
	}}}
	assert.Equal(t, want, abs2.Assertions)
	assert.Equal(t, []Check{{ID: 1, Expr: "$result gt 0", BindsResult: true}}, Checks(abs2.Assertions))
}

func TestLoad_MissingQueryIsContainedToOneCase(t *testing.T) {
	doc, err := Load(qt3Fixture(t), "qt3")
	require.NoError(t, err)

	bad, ok := doc.Lookup("op-numeric", "div-2")
	require.True(t, ok)
	require.NotNil(t, bad.CatalogErr)
	assert.Equal(t, engine.KindCatalog, bad.CatalogErr.Kind)
	assert.Contains(t, bad.CatalogErr.Message, "missing query")

	for _, name := range []string{"div-1", "div-3"} {
		c, ok := doc.Lookup("op-numeric", name)
		require.True(t, ok)
		assert.Nil(t, c.CatalogErr, name)
	}
	div3, _ := doc.Lookup("op-numeric", "div-3")
	assert.Equal(t, []Assertion{StringEqual{Expected: "1"}}, div3.Assertions)

	assert.Len(t, doc.CatalogErrors(), 1)
}

func TestLoad_MalformedCasesBecomeCatalogErrors(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"catalog.xml": `<catalog><test-set name="s" file="s.xml"/></catalog>`,
		"s.xml": `<test-set name="s">
  <test-case name="unknown-assertion">
    <test>1</test><result><assert-frobnicated/></result>
  </test-case>
  <test-case name="unknown-dependency">
    <dependency type="moon-phase" value="full"/>
    <test>1</test><result><assert-true/></result>
  </test-case>
  <test-case name="unresolved-environment">
    <environment ref="nowhere"/>
    <test>1</test><result><assert-true/></result>
  </test-case>
  <test-case name="missing-source">
    <environment><source role="." file="gone.xml"/></environment>
    <test>1</test><result><assert-true/></result>
  </test-case>
  <test-case name="no-result">
    <test>1</test>
  </test-case>
  <test-case name="fine">
    <test>1</test><result><assert-true/></result>
  </test-case>
</test-set>`,
	})

	doc, err := Load(filepath.Join(dir, "catalog.xml"), "qt3")
	require.NoError(t, err)

	tests := []struct {
		name string
		msg  string
	}{
		{"unknown-assertion", `unknown assertion "assert-frobnicated"`},
		{"unknown-dependency", `unknown dependency type "moon-phase"`},
		{"unresolved-environment", `environment "nowhere" not found`},
		{"missing-source", "missing file"},
		{"no-result", "no expected result"},
	}
	for _, tt := range tests {
		c, ok := doc.Lookup("s", tt.name)
		require.True(t, ok, tt.name)
		require.NotNil(t, c.CatalogErr, tt.name)
		assert.Contains(t, c.CatalogErr.Error(), tt.msg, tt.name)
	}

	fine, _ := doc.Lookup("s", "fine")
	assert.Nil(t, fine.CatalogErr)
}

func TestLoad_UnreadableSetBecomesPlaceholder(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"catalog.xml": `<catalog>
  <test-set name="gone" file="gone.xml"/>
  <test-set name="broken" file="broken.xml"/>
  <test-set name="ok" file="ok.xml"/>
</catalog>`,
		"broken.xml": `<test-set name="broken"><test-case`,
		"ok.xml":     `<test-set name="ok"><test-case name="c"><test>1</test><result><assert-true/></result></test-case></test-set>`,
	})

	doc, err := Load(filepath.Join(dir, "catalog.xml"), "qt3")
	require.NoError(t, err)
	require.Len(t, doc.Sets, 3)

	for _, name := range []string{"gone", "broken"} {
		c, ok := doc.Lookup(name, PlaceholderCase)
		require.True(t, ok, name)
		require.NotNil(t, c.CatalogErr)
		assert.True(t, engine.IsCatalog(c.CatalogErr))
	}
	_, ok := doc.Lookup("ok", "c")
	assert.True(t, ok)
}

func TestLoad_DuplicateSetName(t *testing.T) {
	set := `<test-set name="s"><test-case name="c"><test>1</test><result><assert-true/></result></test-case></test-set>`
	dir := writeFiles(t, map[string]string{
		"catalog.xml": `<catalog><test-set name="s" file="a.xml"/><test-set name="s" file="b.xml"/></catalog>`,
		"a.xml":       set,
		"b.xml":       set,
	})

	doc, err := Load(filepath.Join(dir, "catalog.xml"), "qt3")
	require.NoError(t, err)
	require.Len(t, doc.Sets, 1)
	require.Len(t, doc.Sets[0].Cases, 2)
	assert.Nil(t, doc.Sets[0].Cases[0].CatalogErr)
	assert.Contains(t, doc.Sets[0].Cases[1].CatalogErr.Message, "duplicate test set")
}

func TestLoad_RootFailuresAreFatal(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"malformed.xml": `<catalog><test-set`,
		"wrong-root.xml": `<testSuite/>`,
	})

	_, err := Load(filepath.Join(dir, "absent.xml"), "qt3")
	require.Error(t, err)
	assert.True(t, IsLoadError(err))

	_, err = Load(filepath.Join(dir, "malformed.xml"), "qt3")
	assert.True(t, IsLoadError(err))

	_, err = Load(filepath.Join(dir, "wrong-root.xml"), "qt3")
	assert.True(t, IsLoadError(err))

	_, err = Load(filepath.Join(dir, "malformed.xml"), "no-such-format")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown catalog format")
}

func TestLoad_Filter(t *testing.T) {
	path := qt3Fixture(t)

	f, err := NewFilter("fn-abs")
	require.NoError(t, err)
	doc, err := Load(path, "qt3", WithFilter(f))
	require.NoError(t, err)
	require.Len(t, doc.Sets, 1)
	assert.Equal(t, 3, doc.Len())

	f, err = NewFilter("*/div-[13]")
	require.NoError(t, err)
	doc, err = Load(path, "qt3", WithFilter(f))
	require.NoError(t, err)
	require.Len(t, doc.Sets, 1)
	assert.Equal(t, "op-numeric", doc.Sets[0].Name)
	assert.Equal(t, 2, doc.Len())
}

func TestLoad_QT3XQueryModules(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"catalog.xml": `<catalog><test-set name="mod" file="mod.xml"/></catalog>`,
		"mod.xml": `<test-set name="mod">
  <test-case name="m1">
    <module uri="urn:lib" file="lib.xqm"/>
    <test>import module namespace l="urn:lib"; l:f()</test>
    <result><assert-deep-eq>(1, 2)</assert-deep-eq></result>
  </test-case>
</test-set>`,
		"lib.xqm": `module namespace l="urn:lib"; declare function l:f() { (1, 2) };`,
	})

	doc, err := Load(filepath.Join(dir, "catalog.xml"), "qt3-xquery")
	require.NoError(t, err)
	assert.Equal(t, "qt3-xquery", doc.Suite)

	m1, _ := doc.Lookup("mod", "m1")
	require.Nil(t, m1.CatalogErr)
	q, ok := m1.Definition.(XQueryModule)
	require.True(t, ok)
	require.Len(t, q.Modules, 1)
	assert.Equal(t, "urn:lib", q.Modules[0].URI)
	assert.Contains(t, q.Modules[0].Text, "declare function")
	assert.Equal(t, engine.CapXQuery, m1.Definition.Capability())
	assert.Equal(t, []Assertion{DeepEqual{ID: 1, Expr: "(1, 2)"}}, m1.Assertions)
}

func TestLoad_XSLT30(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"catalog.xml": `<catalog xmlns="http://www.w3.org/2012/10/xslt-test-catalog">
  <environment name="doc"><source role="." file="in.xml"/></environment>
  <test-set name="attr" file="tests/attr.xml"/>
</catalog>`,
		"in.xml": `<in/>`,
		"tests/attr.xml": `<test-set xmlns="http://www.w3.org/2012/10/xslt-test-catalog" name="attr">
  <dependencies><spec value="XSLT20+"/></dependencies>
  <test-case name="attr-001">
    <environment ref="doc"/>
    <dependencies><feature value="schema_aware" satisfied="false"/></dependencies>
    <test>
      <stylesheet file="attr-001.xsl"/>
      <initial-template name="main"/>
      <param name="p" select="'v'"/>
    </test>
    <result>
      <all-of>
        <assert-xml><![CDATA[<out a="1"/>]]></assert-xml>
        <serialization-matches flags="i">OUT</serialization-matches>
      </all-of>
    </result>
  </test-case>
</test-set>`,
		"tests/attr-001.xsl": `<xsl:stylesheet version="3.0" xmlns:xsl="http://www.w3.org/1999/XSL/Transform"/>`,
	})

	doc, err := Load(filepath.Join(dir, "catalog.xml"), "xslt30")
	require.NoError(t, err)

	c, ok := doc.Lookup("attr", "attr-001")
	require.True(t, ok)
	require.Nil(t, c.CatalogErr)

	tr, ok := c.Definition.(XsltTransform)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "tests", "attr-001.xsl"), tr.Stylesheet)
	assert.Equal(t, filepath.Join(dir, "in.xml"), tr.Source)
	assert.Equal(t, "main", tr.InitialTemplate)
	assert.Equal(t, []Param{{Name: "p", Select: "'v'"}}, tr.Params)

	assert.Equal(t, []Assertion{Combine{Mode: CombineAll, Children: []Assertion{
		SerializationEqual{Expected: `<out a="1"/>`},
		SerializationMatches{Pattern: "OUT", Flags: "i"},
	}}}, c.Assertions)

	require.Len(t, c.Dependencies, 2)
	assert.Equal(t, DepLanguage, c.Dependencies[0].Kind)
	assert.Equal(t, "XSLT20+", c.Dependencies[0].Value)
	assert.False(t, c.Dependencies[1].Satisfied)
}

func TestLoad_XSD(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"suite.xml": `<testSuite xmlns="http://www.w3.org/XML/2004/xml-schema-test-suite/"
    xmlns:xlink="http://www.w3.org/1999/xlink">
  <testSetRef xlink:href="ms/set.xml"/>
</testSuite>`,
		"ms/set.xml": `<testSet xmlns="http://www.w3.org/XML/2004/xml-schema-test-suite/"
    xmlns:xlink="http://www.w3.org/1999/xlink" name="msData">
  <testGroup name="addB001">
    <schemaTest name="s1">
      <schemaDocument xlink:href="addB001.xsd"/>
      <expected validity="valid"/>
    </schemaTest>
    <instanceTest name="i1">
      <instanceDocument xlink:href="addB001.xml"/>
      <expected validity="invalid"/>
    </instanceTest>
    <instanceTest name="i2">
      <instanceDocument xlink:href="addB001.xml"/>
      <expected validity="indeterminate"/>
    </instanceTest>
  </testGroup>
</testSet>`,
		"ms/addB001.xsd": `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"/>`,
		"ms/addB001.xml": `<root/>`,
	})

	doc, err := Load(filepath.Join(dir, "suite.xml"), "xsd")
	require.NoError(t, err)
	require.Len(t, doc.Sets, 1)
	assert.Equal(t, "msData", doc.Sets[0].Name)

	s1, ok := doc.Lookup("msData", "addB001/s1")
	require.True(t, ok)
	require.Nil(t, s1.CatalogErr)
	schema := filepath.Join(dir, "ms", "addB001.xsd")
	assert.Equal(t, XsdValidation{Schemas: []string{schema}}, s1.Definition)
	assert.Equal(t, []Assertion{Validity{Expected: "valid"}}, s1.Assertions)

	i1, ok := doc.Lookup("msData", "addB001/i1")
	require.True(t, ok)
	assert.Equal(t, XsdValidation{
		Schemas:  []string{schema},
		Instance: filepath.Join(dir, "ms", "addB001.xml"),
	}, i1.Definition)
	assert.Empty(t, i1.Dependencies)

	i2, _ := doc.Lookup("msData", "addB001/i2")
	assert.Equal(t, []Dependency{
		{Kind: DepFeature, Value: "xsd-indeterminate", Satisfied: true, key: "feature:xsd-indeterminate"},
	}, i2.Dependencies)
}

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		numeric bool
	}{
		{`"abc"`, "abc", false},
		{`'it''s'`, "it's", false},
		{`"say ""hi"""`, `say "hi"`, false},
		{"3", "3", true},
		{"3.50", "3.5", true},
		{"1.5e0", "1.5", true},
		{"1e6", "1.0E6", true},
		{"true()", "true", false},
		{"xs:double('INF')", "INF", true},
		{`xs:decimal("2.0")`, "2", true},
		{`xs:date("2020-01-01")`, "2020-01-01", false},
		{"(1, 2)", "(1, 2)", false},
	}
	for _, tt := range tests {
		got, numeric := parseLiteral(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.numeric, numeric, tt.in)
	}
}

func TestDocument_Digest(t *testing.T) {
	path := qt3Fixture(t)

	a, err := Load(path, "qt3")
	require.NoError(t, err)
	b, err := Load(path, "qt3")
	require.NoError(t, err)

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 64)

	f, err := NewFilter("fn-abs")
	require.NoError(t, err)
	filtered, err := Load(path, "qt3", WithFilter(f))
	require.NoError(t, err)
	df, err := filtered.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, df, "a filtered selection has its own digest")
}
