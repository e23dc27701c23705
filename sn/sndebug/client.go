package sndebug

import (
	"net/http"
	"time"

	"github.com/tv42/httpunix"
)

// SocketURL is the base URL for requests through a SocketClient.
const SocketURL = "http+unix://quorumnetd"

// SocketClient returns an HTTP client that speaks to a status server
// listening on the given unix socket. Request URLs are formed against
// SocketURL, e.g. SocketURL + "/status".
func SocketClient(socketPath string) *http.Client {
	u := &httpunix.Transport{
		DialTimeout:           100 * time.Millisecond,
		RequestTimeout:        time.Second,
		ResponseHeaderTimeout: time.Second,
	}
	u.RegisterLocation("quorumnetd", socketPath)

	t := &http.Transport{}
	t.RegisterProtocol(httpunix.Scheme, u)
	return &http.Client{Transport: t}
}
