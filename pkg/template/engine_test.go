package template

import (
	"encoding/json"
	mathrand "math/rand/v2"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockcore/pkg/mock"
)

func TestRender_Request(t *testing.T) {
	req := mock.NewRequest("POST", "/users/42")
	req.Query.Set("page", "3")
	req.Header.Set("X-Tenant", "acme")
	req.PathParams = map[string]string{"id": "42"}
	req.Body = []byte(`{"user":{"name":"ada","tags":["a","b"],"age":36}}`)

	tests := []struct {
		tmpl string
		want string
	}{
		{"{{request.method}} {{request.path}}", "POST /users/42"},
		{"{{ request.query.page }}", "3"},
		{"{{request.header.x-tenant}}", "acme"},
		{"{{request.pathParam.id}}", "42"},
		{"{{request.body.user.name}}", "ada"},
		{"{{request.body.user.age}}", "36"},
		{"{{request.body.user.tags}}", `["a","b"]`},
		{"{{request.body.user.tags[1]}}", "b"},
		{"{{upper(request.body.user.name)}}", "ADA"},
		{`{{default(request.query.missing, "none")}}`, "none"},
		{"{{request.body.missing}}", ""},
		{"{{no.such.thing}}", ""},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.tmpl, RequestContext(req)))
		})
	}
}

func TestRender_Message(t *testing.T) {
	ctx := MessageContext([]byte(`{"type":"hello","user":"ada"}`), map[string]string{"room": "r1"})
	assert.Equal(t, `hi ada in r1`, Render("hi {{message.user}} in {{vars.room}}", ctx))
	assert.Equal(t, `echo: {"type":"hello","user":"ada"}`, Render("echo: {{message}}", ctx))

	text := MessageContext([]byte("PING"), nil)
	assert.Equal(t, "", Render("{{message.user}}", text))
	assert.Equal(t, "got PING", Render("got {{message}}", text))
}

func TestRenderValue(t *testing.T) {
	ctx := MessageContext(nil, map[string]string{"quote": `say "hi"`, "n": "3"})
	in := map[any]any{
		"text":  "{{vars.quote}}",
		"count": 3,
		"list":  []any{"{{vars.n}}", true},
		"nested": map[string]any{
			"keep": "{{vars.quote}}!",
		},
	}

	out := RenderValue(in, ctx)
	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"say \"hi\"","count":3,"list":["3",true],"nested":{"keep":"say \"hi\"!"}}`, string(data))
	assert.Equal(t, "{{vars.quote}}", in["text"], "input left untouched")
}

func TestRender_Builtins(t *testing.T) {
	out := Render("{{uuid}}", nil)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f-]{36}$`), out)

	n, err := strconv.Atoi(Render("{{random.int(5, 7)}}", nil))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 5)
	assert.LessOrEqual(t, n, 7)

	n, err = strconv.Atoi(Render("{{random.int 1 1}}", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Len(t, Render("{{random.string(12)}}", nil), 12)

	_, err = strconv.ParseInt(Render("{{timestamp}}", nil), 10, 64)
	assert.NoError(t, err)
}

func TestRender_Seeded(t *testing.T) {
	render := func() string {
		ctx := &Context{Rand: mathrand.New(mathrand.NewPCG(7, 0))}
		return Render("{{uuid}}/{{random.int(0, 1000)}}/{{random.string(6)}}", ctx)
	}
	assert.Equal(t, render(), render())
}

func TestHasTemplate(t *testing.T) {
	assert.True(t, HasTemplate("a {{ uuid }} b"))
	assert.False(t, HasTemplate("a { uuid } b"))
}
