package forms

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
)

const loginPage = `<html><body>
<form action="/search" method="get">
  <input type="text" name="q">
  <input type="hidden" name="csrf" value="abc">
  <input type="submit" name="go" value="Go">
</form>
<form action="https://other.example/login" method="POST">
  <input name="user">
  <input type="password" name="pass">
  <textarea name="comment"></textarea>
  <select name="lang"><option value="en">en</option></select>
  <button type="button" name="b">x</button>
</form>
<input type="search" name="site_search">
<input type="checkbox" name="remember">
</body></html>`

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParse(t *testing.T) {
	base := mustURL(t, "https://app.example/account/")
	page, err := Parse(loginPage, base)
	require.NoError(t, err)
	require.Len(t, page.Forms, 2)

	search := page.Forms[0]
	assert.Equal(t, http.MethodGet, search.Method)
	assert.Equal(t, "https://app.example/search", search.URL.String())
	assert.Equal(t, []Field{{Name: "q", Type: "text"}}, search.Testable())

	login := page.Forms[1]
	assert.Equal(t, http.MethodPost, login.Method)
	assert.Equal(t, "https://other.example/login", login.URL.String())
	assert.Equal(t, []Field{
		{Name: "user", Type: "text"},
		{Name: "comment", Type: "textarea"},
		{Name: "lang", Type: "select"},
	}, login.Testable())

	assert.Equal(t, []Field{
		{Name: "q", Type: "text"},
		{Name: "site_search", Type: "search"},
	}, page.SearchInputs)
}

func TestParse_EmptyActionUsesPage(t *testing.T) {
	base := mustURL(t, "https://app.example/contact?ref=1#top")
	page, err := Parse(`<form><input name="msg"></form>`, base)
	require.NoError(t, err)
	require.Len(t, page.Forms, 1)

	assert.Equal(t, "https://app.example/contact?ref=1", page.Forms[0].URL.String())
	assert.Equal(t, base.String(), page.Forms[0].ActionLabel(base))
}

func TestForm_Values(t *testing.T) {
	form := Form{Fields: []Field{{Name: "a", Type: "text"}, {Name: "", Type: "text"}, {Name: "csrf", Type: "hidden"}}}
	v := form.Values(InnocuousValue)
	assert.Equal(t, url.Values{"a": {"test"}, "csrf": {"test"}}, v)
}

func TestQueryParams(t *testing.T) {
	assert.Equal(t, []string{"id", "page"}, QueryParams(mustURL(t, "https://x.example/?page=2&id=7")))
	assert.Empty(t, QueryParams(mustURL(t, "https://x.example/")))
}

func TestWithParam(t *testing.T) {
	target := mustURL(t, "https://x.example/item?id=7&sort=asc")
	got := WithParam(target, "id", "<b>")

	u := mustURL(t, got)
	assert.Equal(t, "<b>", u.Query().Get("id"))
	assert.Equal(t, "asc", u.Query().Get("sort"))
	assert.Equal(t, "/item", u.Path)
	assert.Equal(t, "id=7&sort=asc", target.RawQuery, "target must not be modified")
}

type recordingProber struct {
	method string
	url    string
	form   url.Values
}

func (p *recordingProber) Get(_ context.Context, rawURL string, _ core.GetOptions) core.ProbeResult {
	p.method, p.url = http.MethodGet, rawURL
	return core.ProbeResult{Response: &core.Response{Status: 200}}
}

func (p *recordingProber) PostForm(_ context.Context, rawURL string, form url.Values, _ time.Duration) core.ProbeResult {
	p.method, p.url, p.form = http.MethodPost, rawURL, form
	return core.ProbeResult{Response: &core.Response{Status: 200}}
}

func TestSubmit(t *testing.T) {
	values := url.Values{"q": {"x y"}}

	p := &recordingProber{}
	Submit(context.Background(), p, Form{URL: mustURL(t, "https://x.example/s?old=1"), Method: http.MethodGet}, values, time.Second)
	assert.Equal(t, http.MethodGet, p.method)
	assert.Equal(t, "https://x.example/s?q=x+y", p.url)

	p = &recordingProber{}
	Submit(context.Background(), p, Form{URL: mustURL(t, "https://x.example/s"), Method: http.MethodPost}, values, time.Second)
	assert.Equal(t, http.MethodPost, p.method)
	assert.Equal(t, "https://x.example/s", p.url)
	assert.Equal(t, values, p.form)
}
