package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/nao1215/fastcrawl/internal/model"
)

// fakeSOCKS5 answers method negotiation with method and, when it is "no
// authentication", one CONNECT with a host-unreachable reply.
func fakeSOCKS5(t *testing.T, method byte) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		head := make([]byte, 2)
		if _, err := io.ReadFull(conn, head); err != nil {
			return
		}
		if _, err := io.ReadFull(conn, make([]byte, head[1])); err != nil {
			return
		}
		_, _ = conn.Write([]byte{socks5Version, method})
		if method != socks5AuthNone {
			return
		}
		buf := make([]byte, 5)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		if _, err := io.ReadFull(conn, make([]byte, int(buf[4])+2)); err != nil {
			return
		}
		_, _ = conn.Write([]byte{socks5Version, 0x04, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	}()
	return ln.Addr().String()
}

// TestCheckSOCKS5 tests the SOCKS5 handshake probe.
func TestCheckSOCKS5(t *testing.T) {
	t.Parallel()

	t.Run("no authentication proxy", func(t *testing.T) {
		t.Parallel()

		if got := CheckSOCKS5(context.Background(), fakeSOCKS5(t, socks5AuthNone)); got != ProxyStatusOK {
			t.Errorf("expected OK, got %s", got)
		}
	})

	t.Run("password proxy", func(t *testing.T) {
		t.Parallel()

		if got := CheckSOCKS5(context.Background(), fakeSOCKS5(t, socks5AuthPassword)); got != ProxyStatusOK {
			t.Errorf("expected OK, got %s", got)
		}
	})

	t.Run("rejecting proxy", func(t *testing.T) {
		t.Parallel()

		if got := CheckSOCKS5(context.Background(), fakeSOCKS5(t, socks5AuthNoAccept)); got != ProxyStatusWrongType {
			t.Errorf("expected wrong type, got %s", got)
		}
	})

	t.Run("http server is not SOCKS5", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen failed: %v", err)
		}
		defer ln.Close()
		go func() {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			_, _ = conn.Read(make([]byte, 16))
			_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		}()

		if got := CheckSOCKS5(context.Background(), ln.Addr().String()); got != ProxyStatusWrongType {
			t.Errorf("expected wrong type, got %s", got)
		}
	})

	t.Run("closed port", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen failed: %v", err)
		}
		addr := ln.Addr().String()
		_ = ln.Close()

		status := CheckSOCKS5(context.Background(), addr)
		if status != ProxyStatusCannotConnect {
			t.Errorf("expected cannot connect, got %s", status)
		}
		if !errors.Is(status.Error(), ErrProxyCannotConnect) {
			t.Errorf("unexpected error %v", status.Error())
		}
	})
}

// TestProxyStatusError tests status to error mapping.
func TestProxyStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status ProxyStatus
		want   error
	}{
		{ProxyStatusOK, nil},
		{ProxyStatusWrongType, ErrProxyNotSOCKS5},
		{ProxyStatusCannotConnect, ErrProxyCannotConnect},
		{ProxyStatusTimeout, ErrProxyTimeout},
	}
	for _, tt := range tests {
		if got := tt.status.Error(); !errors.Is(got, tt.want) && got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.status, tt.want, got)
		}
	}
	if ProxyStatus(99).String() != "unknown" {
		t.Error("expected unknown status string")
	}
}

// TestNewHTTPTransport tests proxy routing setup.
func TestNewHTTPTransport(t *testing.T) {
	t.Parallel()

	direct, err := newHTTPTransport(nil, 0)
	if err != nil || direct.Proxy != nil {
		t.Fatalf("expected direct transport, got %v (%v)", direct, err)
	}

	httpProxy, err := newHTTPTransport(&model.ProxySetting{Server: "proxy.local", Port: 3128}, 0)
	if err != nil || httpProxy.Proxy == nil {
		t.Fatalf("expected proxied transport, got %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	u, err := httpProxy.Proxy(req)
	if err != nil || u.Host != "proxy.local:3128" {
		t.Errorf("unexpected proxy url %v (%v)", u, err)
	}

	socks, err := newHTTPTransport(&model.ProxySetting{Server: "127.0.0.1", Port: 9050, Protocol: "socks5", Username: "u", Password: "p"}, 0)
	if err != nil || socks.DialContext == nil {
		t.Errorf("expected SOCKS5 transport, got %v", err)
	}

	if _, err := newHTTPTransport(&model.ProxySetting{Server: "x", Port: 1, Protocol: "ftp"}, 0); !errors.Is(err, ErrUnsupportedProxy) {
		t.Errorf("expected ErrUnsupportedProxy, got %v", err)
	}
}

// TestHTTPEngineSOCKS5Check tests that Open refuses a proxy that is not SOCKS5.
func TestHTTPEngineSOCKS5Check(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	p, err := model.ParseProxy("socks5://" + addr)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	e := NewHTTPEngine(WithProxy(p))
	if err := e.Open(context.Background()); !errors.Is(err, ErrProxyCannotConnect) {
		t.Errorf("expected ErrProxyCannotConnect, got %v", err)
	}
}

// TestSocksProxy tests conversion of daemon addresses to proxy settings.
func TestSocksProxy(t *testing.T) {
	t.Parallel()

	p, err := socksProxy("127.0.0.1:9150")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &model.ProxySetting{Server: "127.0.0.1", Port: 9150, Protocol: "socks5"}
	if !reflect.DeepEqual(p, want) {
		t.Errorf("expected %+v, got %+v", want, p)
	}
	if _, err := socksProxy("nope"); err == nil {
		t.Error("expected error for address without port")
	}
	if _, err := NewEmbeddedTor().Proxy(); !errors.Is(err, ErrTorNotRunning) {
		t.Errorf("expected ErrTorNotRunning, got %v", err)
	}
	if err := NewEmbeddedTor().Stop(); err != nil {
		t.Errorf("stopping an unstarted daemon must succeed: %v", err)
	}
}

// TestSitemapSeeds tests sitemap and sitemap index reading.
func TestSitemapSeeds(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<sitemap><loc>%s/products.xml</loc></sitemap>
</sitemapindex>`, srv.URL)
		case "/products.xml":
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>https://shop.example/p/1</loc></url>
<url><loc> https://shop.example/p/2 </loc></url>
<url><loc>https://shop.example/p/1</loc></url>
</urlset>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	seeds, err := SitemapSeeds(srv.Client(), srv.URL+"/sitemap.xml")(context.Background())
	if err != nil {
		t.Fatalf("sitemap failed: %v", err)
	}
	want := []string{"https://shop.example/p/1", "https://shop.example/p/2"}
	if !reflect.DeepEqual(seeds, want) {
		t.Errorf("expected %v, got %v", want, seeds)
	}

	if _, err := SitemapSeeds(srv.Client(), srv.URL+"/missing.xml")(context.Background()); err == nil {
		t.Error("expected error for missing sitemap")
	}
}

// TestBrowserEngine renders a page in headless Chrome. It needs a local
// Chrome and runs only when FASTCRAWL_CHROME is set.
func TestBrowserEngine(t *testing.T) {
	if os.Getenv("FASTCRAWL_CHROME") == "" {
		t.Skip("FASTCRAWL_CHROME not set")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><div id="x"></div><script>document.getElementById("x").textContent="rendered"</script></body></html>`)
	}))
	defer srv.Close()

	b := NewBrowserEngine(WithBrowserConnectionLimit(2))
	if _, err := b.Dispatch(context.Background(), requests(srv.URL)); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer b.Close()

	cycles, err := b.Dispatch(context.Background(), []*model.Request{
		{URL: srv.URL},
		{URL: srv.URL + "/post", Method: http.MethodPost},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if c := cycles[srv.URL]; !c.OK() || !strings.Contains(c.Response.Text, "rendered") {
		t.Errorf("expected rendered DOM, got %+v", c)
	}
	if c := cycles[srv.URL+"/post"]; c.Err == nil {
		t.Error("expected POST to be refused")
	}
}
