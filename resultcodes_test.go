package ldap

import "testing"

func TestResultCodeStringKnownCodes(t *testing.T) {
	cases := map[ResultCode]string{
		ResultSuccess:            "success",
		ResultNoSuchObject:       "noSuchObject",
		ResultInvalidCredentials: "invalidCredentials",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("ResultCode(%d).String() = %q, want %q", code, got, want)
		}
	}
}

func TestResultCodeStringUnknownCode(t *testing.T) {
	if got := ResultCode(999).String(); got != "resultCode(999)" {
		t.Errorf("ResultCode(999).String() = %q, want resultCode(999)", got)
	}
}

func TestResultCodeSuccess(t *testing.T) {
	if !ResultSuccess.success() {
		t.Error("ResultSuccess.success() = false, want true")
	}
	if ResultNoSuchObject.success() {
		t.Error("ResultNoSuchObject.success() = true, want false")
	}
}
