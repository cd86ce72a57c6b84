package httpmsg

import "testing"

func TestParseRequestAbsoluteTarget(t *testing.T) {
	raw := "GET http://example.com/foo HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n"
	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Method != MethodGET {
		t.Errorf("Method = %q, want GET", req.Method)
	}
	if req.URI.Host != "example.com" || req.URI.Path != "/foo" {
		t.Errorf("URI = %+v", req.URI)
	}
	if req.Header.Get("Connection") != "Keep-Alive" {
		t.Errorf("default Connection header missing: %+v", req.Header)
	}
}

func TestParseRequestOriginFormWithHostHeader(t *testing.T) {
	raw := "GET /foo HTTP/1.1\r\nHost: example.com:8080\r\n\r\n"
	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.URI.Host != "example.com" || req.URI.Port != "8080" {
		t.Errorf("URI from Host header = %+v", req.URI)
	}
}

func TestParseRequestConnect(t *testing.T) {
	raw := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Method != MethodCONNECT {
		t.Errorf("Method = %q, want CONNECT", req.Method)
	}
	if req.URI.Host != "example.com" || req.URI.Port != "443" {
		t.Errorf("CONNECT URI = %+v", req.URI)
	}
}

func TestParseRequestNoHostRejected(t *testing.T) {
	raw := "GET /foo HTTP/1.1\r\n\r\n"
	_, err := ParseRequest(raw)
	if err == nil {
		t.Fatal("expected error for missing host in both request-target and Host header")
	}
}

func TestParseRequestStripsUpgradeInsecure(t *testing.T) {
	raw := "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\nUpgrade-Insecure-Requests: 1\r\n\r\n"
	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Header.Has("Upgrade-Insecure-Requests") {
		t.Error("Upgrade-Insecure-Requests should have been stripped")
	}
}

func TestRequestDumpRoundTrip(t *testing.T) {
	raw := "GET http://example.com/foo HTTP/1.1\r\nHost: example.com\r\n\r\n"
	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	dumped := string(req.Dump())
	req2, err := ParseRequest(dumped)
	if err != nil {
		t.Fatalf("re-parsing dumped request: %v", err)
	}
	if req2.URI.Host != req.URI.Host || req2.URI.Path != req.URI.Path || req2.Method != req.Method {
		t.Errorf("round trip mismatch: %+v vs %+v", req, req2)
	}
}
