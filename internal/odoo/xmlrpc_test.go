package odoo_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kickoff/internal/odoo"
)

var methodNameRe = regexp.MustCompile(`<methodName>([^<]+)</methodName>`)

type fakeOdoo struct {
	mu     sync.Mutex
	bodies []string
	reply  func(method, body string) string
}

func (f *fakeOdoo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	body := string(raw)
	f.mu.Lock()
	f.bodies = append(f.bodies, r.URL.Path+" "+body)
	f.mu.Unlock()
	m := methodNameRe.FindStringSubmatch(body)
	method := ""
	if len(m) == 2 {
		method = m[1]
	}
	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprint(w, `<?xml version="1.0"?><methodResponse>`+f.reply(method, body)+`</methodResponse>`)
}

func param(value string) string {
	return `<params><param><value>` + value + `</value></param></params>`
}

func fault(msg string) string {
	return `<fault><value><struct>` +
		`<member><name>faultCode</name><value><int>1</int></value></member>` +
		`<member><name>faultString</name><value><string>` + msg + `</string></value></member>` +
		`</struct></value></fault>`
}

func dialFake(t *testing.T, f *fakeOdoo) *odoo.XMLRPCClient {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := odoo.Dial(odoo.Config{URL: srv.URL, Database: "demo", Username: "admin", Password: "secret"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestXMLRPCCreateAuthenticatesOnce(t *testing.T) {
	f := &fakeOdoo{reply: func(method, body string) string {
		switch method {
		case "authenticate":
			return param(`<int>2</int>`)
		case "execute_kw":
			return param(`<int>41</int>`)
		}
		return fault("unexpected " + method)
	}}
	c := dialFake(t, f)

	ctx := context.Background()
	id, err := c.Create(ctx, odoo.ModelProject, odoo.Values{"name": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, int64(41), id)
	_, err = c.Create(ctx, odoo.ModelTask, odoo.Values{"name": "t"})
	require.NoError(t, err)

	require.Len(t, f.bodies, 3)
	assert.True(t, strings.HasPrefix(f.bodies[0], "/xmlrpc/2/common "))
	assert.Contains(t, f.bodies[1], "/xmlrpc/2/object ")
	assert.Contains(t, f.bodies[1], "<string>project.project</string>")
	assert.Contains(t, f.bodies[1], "<string>create</string>")
}

func TestXMLRPCSearchDecodesIDs(t *testing.T) {
	f := &fakeOdoo{reply: func(method, body string) string {
		if method == "authenticate" {
			return param(`<int>2</int>`)
		}
		if strings.Contains(body, "<string>Finans</string>") {
			return param(`<array><data><value><int>7</int></value><value><int>9</int></value></data></array>`)
		}
		return param(`<array><data></data></array>`)
	}}
	c := dialFake(t, f)

	ids, err := c.Search(context.Background(), odoo.ModelTag, odoo.Domain{odoo.Eq("name", "Finans")})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 9}, ids)

	ids, err = c.Search(context.Background(), odoo.ModelTag, odoo.Domain{odoo.Eq("name", "Yok")})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestXMLRPCRejectedLogin(t *testing.T) {
	f := &fakeOdoo{reply: func(method, body string) string {
		return param(`<boolean>0</boolean>`)
	}}
	c := dialFake(t, f)

	_, err := c.Create(context.Background(), odoo.ModelProject, odoo.Values{"name": "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, odoo.ErrAuthentication)
}

func TestXMLRPCFaultIsRemoteError(t *testing.T) {
	f := &fakeOdoo{reply: func(method, body string) string {
		if method == "authenticate" {
			return param(`<int>2</int>`)
		}
		return fault("Object project.milestone doesn't exist")
	}}
	c := dialFake(t, f)

	_, err := c.Create(context.Background(), odoo.ModelMilestone, odoo.Values{"name": "m"})
	require.Error(t, err)
	var rpcErr *odoo.RemoteRPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, odoo.ModelMilestone, rpcErr.Model)
	assert.Equal(t, "create", rpcErr.Method)
	assert.True(t, odoo.IsModelMissing(err))
}

func TestDialRequiresCredentials(t *testing.T) {
	_, err := odoo.Dial(odoo.Config{URL: "http://localhost", Database: "demo", Username: "admin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}

func TestXMLRPCReadDecodesRecords(t *testing.T) {
	f := &fakeOdoo{reply: func(method, body string) string {
		if method == "authenticate" {
			return param(`<int>2</int>`)
		}
		if strings.Contains(body, ">4<") {
			return param(`<array><data><value><int>4</int></value></data></array>`)
		}
		return param(`<array><data><value><struct>` +
			`<member><name>id</name><value><int>3</int></value></member>` +
			`<member><name>name</name><value><string>T</string></value></member>` +
			`</struct></value></data></array>`)
	}}
	c := dialFake(t, f)
	ctx := context.Background()

	recs, err := c.Read(ctx, odoo.ModelTask, []int64{3}, []string{"name"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.EqualValues(t, 3, recs[0]["id"])
	assert.Equal(t, "T", recs[0]["name"])
	assert.Contains(t, f.bodies[1], "<string>read</string>")
	assert.Contains(t, f.bodies[1], "<name>fields</name>")
	assert.Contains(t, f.bodies[1], "<string>name</string>")

	_, err = c.Read(ctx, odoo.ModelTask, []int64{4}, nil)
	var rpcErr *odoo.RemoteRPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "read", rpcErr.Method)

	recs, err = c.Read(ctx, odoo.ModelTask, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Len(t, f.bodies, 3)
}

func TestXMLRPCUnlinkSendsIDs(t *testing.T) {
	f := &fakeOdoo{reply: func(method, body string) string {
		if method == "authenticate" {
			return param(`<int>2</int>`)
		}
		return param(`<boolean>1</boolean>`)
	}}
	c := dialFake(t, f)

	require.NoError(t, c.Unlink(context.Background(), odoo.ModelTask, []int64{11, 12}))
	require.NoError(t, c.Unlink(context.Background(), odoo.ModelTask, nil))

	require.Len(t, f.bodies, 2)
	body := f.bodies[1]
	assert.Contains(t, body, "<string>project.task</string>")
	assert.Contains(t, body, "<string>unlink</string>")
	assert.Contains(t, body, ">11<")
	assert.Contains(t, body, ">12<")
}
