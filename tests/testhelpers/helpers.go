package testhelpers

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	. "github.com/onsi/gomega"
	"github.com/valyala/fasthttp"

	"github.com/xyshyniaphy/SECCAMP/internal/common/httputil"
)

// TestResponse is one ops API exchange: raw status and body plus the
// decoded envelope when the body carries one.
type TestResponse struct {
	StatusCode int
	Body       []byte
	Envelope   *httputil.APIResponse
	Duration   time.Duration
	Err        error
}

// Get performs a GET against an ops endpoint.
func Get(url string, headers map[string]string) *TestResponse {
	return do(fasthttp.MethodGet, url, headers)
}

// Post performs a POST against an ops endpoint.
func Post(url string, headers map[string]string) *TestResponse {
	return do(fasthttp.MethodPost, url, headers)
}

func do(method, url string, headers map[string]string) *TestResponse {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &fasthttp.Client{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	start := time.Now()
	err := client.Do(req, resp)
	elapsed := time.Since(start)

	if err != nil {
		return &TestResponse{Err: err, Duration: elapsed}
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())

	result := &TestResponse{
		StatusCode: resp.StatusCode(),
		Body:       body,
		Duration:   elapsed,
	}

	var envelope httputil.APIResponse
	if json.Unmarshal(body, &envelope) == nil {
		result.Envelope = &envelope
	}
	return result
}

// WaitForTCP polls an address until something accepts connections.
func WaitForTCP(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("nothing listening on %s after %v", addr, timeout)
}

// ExpectNoError checks that the request itself went through.
func ExpectNoError(r *TestResponse) {
	Expect(r).NotTo(BeNil(), "Response should not be nil")
	Expect(r.Err).To(BeNil(), "Request should not have network errors")
}

// ExpectStatus verifies the HTTP status code.
func ExpectStatus(r *TestResponse, code int) {
	ExpectNoError(r)
	Expect(r.StatusCode).To(Equal(code),
		"Expected status %d, got %d (body: %s)", code, r.StatusCode, string(r.Body))
}

// ExpectSuccess verifies a 200 success envelope and returns its data
// payload as a generic map for field assertions.
func ExpectSuccess(r *TestResponse) map[string]interface{} {
	ExpectStatus(r, 200)
	Expect(r.Envelope).NotTo(BeNil(), "Body should be an API envelope: %s", string(r.Body))
	Expect(r.Envelope.Success).To(BeTrue(), "Envelope should report success: %s", string(r.Body))

	if r.Envelope.Data == nil {
		return nil
	}
	dataBytes, err := json.Marshal(r.Envelope.Data)
	Expect(err).ToNot(HaveOccurred())
	var data map[string]interface{}
	Expect(json.Unmarshal(dataBytes, &data)).To(Succeed())
	return data
}

// ExpectFailure verifies an error envelope with the given status and a
// message containing the fragment.
func ExpectFailure(r *TestResponse, code int, fragment string) {
	ExpectStatus(r, code)
	Expect(r.Envelope).NotTo(BeNil(), "Body should be an API envelope: %s", string(r.Body))
	Expect(r.Envelope.Success).To(BeFalse(), "Envelope should report failure: %s", string(r.Body))
	if fragment != "" {
		Expect(r.Envelope.Message).To(ContainSubstring(fragment))
	}
}
