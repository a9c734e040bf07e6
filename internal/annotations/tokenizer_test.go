package annotations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/crate/internal/errors"
)

func render(t *testing.T, tok *Tokenizer, docblock string) []string {
	t.Helper()
	tokens, err := tok.Parse(docblock)
	require.NoError(t, err)

	var out []string
	for _, annotation := range Split(tokens) {
		out = append(out, ToString{}.Convert(annotation))
	}

	return out
}

func TestParseSimpleAnnotations(t *testing.T) {
	doc := "/**\n * This is an example entity class.\n *\n * @Entity()\n * @Table(name=\"test\")\n */"

	assert.Equal(t, []string{`@Entity()`, `@Table(name="test")`}, render(t, NewTokenizer(), doc))
}

func TestParseMultiLineArguments(t *testing.T) {
	doc := `/**
     * A foreign key.
     *
     * @ORM\ManyToMany(targetEntity="SomethingElse")
     * @ORM\JoinTable(
     *     name="aJoinTable",
     *     joinColumns={
     *         @ORM\JoinColumn(name="joined",referencedColumnName="foreign")
     *     },
     *     inverseJoinColumns={
     *         @ORM\JoinColumn(name="foreign",referencedColumnName="joined")
     *     }
     * )
     */`

	expected := []string{
		`@ORM\ManyToMany(targetEntity="SomethingElse")`,
		`@ORM\JoinTable(name="aJoinTable",joinColumns={@ORM\JoinColumn(name="joined",referencedColumnName="foreign")},inverseJoinColumns={@ORM\JoinColumn(name="foreign",referencedColumnName="joined")})`,
	}
	assert.Equal(t, expected, render(t, NewTokenizer(), doc))
}

func TestIgnore(t *testing.T) {
	tok := NewTokenizer().Ignore("author", "@Inline")
	assert.Equal(t, []string{"author", "inline"}, tok.Ignored())

	doc := "/**\n * @author Made Up <author@web.com>\n * @inline(x=1)\n * @var string\n */"
	assert.Equal(t, []string{"@var"}, render(t, tok, doc))
}

func TestGluedAtIsNotAnAnnotation(t *testing.T) {
	tokens, err := NewTokenizer().Parse("/** contact me at someone@example.com or @ nothing */")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestScalarArguments(t *testing.T) {
	doc := `/** @Column(length=255, nullable=TRUE, default=NULL, scale=-1.5e3, options={"a": "say ""hi"""}, flag=false) */`

	assert.Equal(t,
		[]string{`@Column(length=255,nullable=true,default=null,scale=-1.5e3,options={"a":"say ""hi"""},flag=false)`},
		render(t, NewTokenizer(), doc))

	tokens, err := NewTokenizer().Parse(`/** @Size(max=10, ratio=0.5) */`)
	require.NoError(t, err)
	types := make([]TokenType, 0, len(tokens))
	for _, tok := range tokens {
		types = append(types, tok.Type)
	}
	assert.Equal(t, []TokenType{
		At, Identifier, OpenParen, Identifier, Equals, Integer, Comma,
		Identifier, Equals, Float, CloseParen,
	}, types)
}

func TestParseErrors(t *testing.T) {
	testCases := map[string]string{
		"unterminated list":   `/** @Foo(bar="baz" */`,
		"unterminated string": `/** @Foo(bar="baz) */`,
		"mismatched brace":    `/** @Foo(bar={1)) */`,
		"bad character":       `/** @Foo(bar=<x>) */`,
	}

	for name, doc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTokenizer().Parse(doc)
			require.Error(t, err)
			assert.True(t, errors.IsFormatError(err))
		})
	}
}

func TestSplitNestedAnnotations(t *testing.T) {
	tokens := []Token{
		{At, "@"}, {Identifier, "A"}, {OpenParen, "("},
		{At, "@"}, {Identifier, "B"}, {CloseParen, ")"},
		{At, "@"}, {Identifier, "C"},
	}

	groups := Split(tokens)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 6)
	assert.Equal(t, "@C", ToString{}.Convert(groups[1]))
}

func TestTokenTypeString(t *testing.T) {
	assert.Equal(t, "(", OpenParen.String())
	assert.Equal(t, "TokenType(99)", TokenType(99).String())
}
