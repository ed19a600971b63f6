package httpcache

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httputil"
)

const PREFIX = "---HTTP-RESPONSE---\n"

// Serialize dumps the response in HTTP/1.x wire format, body included.
// resp.Body is consumed and replaced.
func Serialize(resp *http.Response) ([]byte, error) {
	if resp.ProtoMajor == 0 {
		resp.Proto, resp.ProtoMajor, resp.ProtoMinor = "HTTP/1.1", 1, 1
	}

	b, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, err
	}

	return append([]byte(PREFIX), b...), nil
}

// Deserialize parses data written by Serialize. req becomes the response's Request.
func Deserialize(b []byte, req *http.Request) (*http.Response, error) {
	if !bytes.HasPrefix(b, []byte(PREFIX)) {
		n := len(PREFIX)
		if len(b) < n {
			n = len(b)
		}
		return nil, fmt.Errorf("invalid prefix: expected '%s', got '%s'", PREFIX, b[:n])
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b[len(PREFIX):])), req)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}

	return resp, nil
}
