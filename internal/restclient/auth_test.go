package restclient

import "testing"

func TestSignRequest(t *testing.T) {
	got := signRequest("public", "key", "patch", "/path/?foo=bar", []byte("data body"))
	want := "ApiKey public:2b989ffc81712758d070fb46055b55f18a245d15"
	if got != want {
		t.Fatalf("signRequest() = %q, want %q", got, want)
	}
}

func TestSignRequestUppercasesMethod(t *testing.T) {
	lower := signRequest("k", "s", "get", "/x/", nil)
	upper := signRequest("k", "s", "GET", "/x/", nil)
	if lower != upper {
		t.Fatalf("signature should be case-insensitive on method: %q != %q", lower, upper)
	}
}

func TestSignRequestEmptyBody(t *testing.T) {
	got := signRequest("public", "key", "GET", "/path/", nil)
	gotWithEmpty := signRequest("public", "key", "GET", "/path/", []byte{})
	if got != gotWithEmpty {
		t.Fatalf("nil and empty body should sign identically: %q != %q", got, gotWithEmpty)
	}
}
