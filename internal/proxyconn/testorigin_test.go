package proxyconn

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
)

// testOrigin is a minimal raw-TCP HTTP/1.1 origin server used by the
// integration tests below. Unlike net/http.Server, it speaks just
// enough of the wire protocol to exercise the proxy's own manual
// parser: fixed routes, no keep-alive pipelining beyond one request at
// a time per accepted connection.
type testOrigin struct {
	listener net.Listener
	requests atomic.Int64
	routes   map[string]testRoute
}

type testRoute struct {
	status      int
	contentType string
	body        string
}

func newTestOrigin(routes map[string]testRoute) (*testOrigin, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	o := &testOrigin{listener: l, routes: routes}
	go o.serve()
	return o, nil
}

func (o *testOrigin) Addr() string { return o.listener.Addr().String() }

func (o *testOrigin) Close() { o.listener.Close() }

func (o *testOrigin) serve() {
	for {
		conn, err := o.listener.Accept()
		if err != nil {
			return
		}
		go o.handle(conn)
	}
}

func (o *testOrigin) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	requestLine, err := r.ReadString('\n')
	if err != nil {
		return
	}
	o.requests.Add(1)

	fields := strings.Fields(requestLine)
	path := "/"
	if len(fields) >= 2 {
		path = fields[1]
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil || strings.TrimSpace(line) == "" {
			break
		}
	}

	route, ok := o.routes[path]
	if !ok {
		route = testRoute{status: 404, contentType: "text/plain", body: "not found"}
	}

	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\n", route.status, statusText(route.status))
	fmt.Fprintf(conn, "Content-Type: %s\r\n", route.contentType)
	fmt.Fprintf(conn, "Content-Length: %d\r\n", len(route.body))
	fmt.Fprintf(conn, "Connection: close\r\n\r\n")
	conn.Write([]byte(route.body))
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 404:
		return "Not Found"
	default:
		return "Unknown"
	}
}
