package ldap

import "strconv"

// ResultCode is an LDAP result code as defined in RFC 4511 Section 4.1.9.
type ResultCode int

// LDAP result codes per RFC 4511 Section 4.1.9. Only the subset this
// package's operations can plausibly see is named; servers may return
// other values, which still round-trip as a ResultCode, just without a
// String() mapping beyond "resultCode(N)".
const (
	ResultSuccess                     ResultCode = 0
	ResultOperationsError             ResultCode = 1
	ResultProtocolError               ResultCode = 2
	ResultTimeLimitExceeded           ResultCode = 3
	ResultSizeLimitExceeded           ResultCode = 4
	ResultCompareFalse                ResultCode = 5
	ResultCompareTrue                 ResultCode = 6
	ResultAuthMethodNotSupported      ResultCode = 7
	ResultStrongerAuthRequired        ResultCode = 8
	ResultReferral                    ResultCode = 10
	ResultAdminLimitExceeded          ResultCode = 11
	ResultUnavailableCriticalExt      ResultCode = 12
	ResultConfidentialityRequired     ResultCode = 13
	ResultSASLBindInProgress          ResultCode = 14
	ResultNoSuchAttribute             ResultCode = 16
	ResultUndefinedAttributeType      ResultCode = 17
	ResultInappropriateMatching       ResultCode = 18
	ResultConstraintViolation         ResultCode = 19
	ResultAttributeOrValueExists      ResultCode = 20
	ResultInvalidAttributeSyntax      ResultCode = 21
	ResultNoSuchObject                ResultCode = 32
	ResultAliasProblem                ResultCode = 33
	ResultInvalidDNSyntax             ResultCode = 34
	ResultAliasDerefProblem           ResultCode = 36
	ResultInappropriateAuthentication ResultCode = 48
	ResultInvalidCredentials          ResultCode = 49
	ResultInsufficientAccessRights    ResultCode = 50
	ResultBusy                        ResultCode = 51
	ResultUnavailable                 ResultCode = 52
	ResultUnwillingToPerform          ResultCode = 53
	ResultLoopDetect                  ResultCode = 54
	ResultNamingViolation             ResultCode = 64
	ResultObjectClassViolation        ResultCode = 65
	ResultNotAllowedOnNonLeaf         ResultCode = 66
	ResultNotAllowedOnRDN             ResultCode = 67
	ResultEntryAlreadyExists          ResultCode = 68
	ResultObjectClassModsProhibited   ResultCode = 69
	ResultAffectsMultipleDSAs         ResultCode = 71
	ResultOther                       ResultCode = 80
)

var resultCodeNames = map[ResultCode]string{
	ResultSuccess:                     "success",
	ResultOperationsError:             "operationsError",
	ResultProtocolError:               "protocolError",
	ResultTimeLimitExceeded:           "timeLimitExceeded",
	ResultSizeLimitExceeded:           "sizeLimitExceeded",
	ResultCompareFalse:                "compareFalse",
	ResultCompareTrue:                 "compareTrue",
	ResultAuthMethodNotSupported:      "authMethodNotSupported",
	ResultStrongerAuthRequired:        "strongerAuthRequired",
	ResultReferral:                    "referral",
	ResultAdminLimitExceeded:          "adminLimitExceeded",
	ResultUnavailableCriticalExt:      "unavailableCriticalExtension",
	ResultConfidentialityRequired:     "confidentialityRequired",
	ResultSASLBindInProgress:          "saslBindInProgress",
	ResultNoSuchAttribute:             "noSuchAttribute",
	ResultUndefinedAttributeType:      "undefinedAttributeType",
	ResultInappropriateMatching:       "inappropriateMatching",
	ResultConstraintViolation:         "constraintViolation",
	ResultAttributeOrValueExists:      "attributeOrValueExists",
	ResultInvalidAttributeSyntax:      "invalidAttributeSyntax",
	ResultNoSuchObject:                "noSuchObject",
	ResultAliasProblem:                "aliasProblem",
	ResultInvalidDNSyntax:             "invalidDNSyntax",
	ResultAliasDerefProblem:           "aliasDereferencingProblem",
	ResultInappropriateAuthentication: "inappropriateAuthentication",
	ResultInvalidCredentials:          "invalidCredentials",
	ResultInsufficientAccessRights:    "insufficientAccessRights",
	ResultBusy:                        "busy",
	ResultUnavailable:                 "unavailable",
	ResultUnwillingToPerform:          "unwillingToPerform",
	ResultLoopDetect:                  "loopDetect",
	ResultNamingViolation:             "namingViolation",
	ResultObjectClassViolation:        "objectClassViolation",
	ResultNotAllowedOnNonLeaf:         "notAllowedOnNonLeaf",
	ResultNotAllowedOnRDN:             "notAllowedOnRDN",
	ResultEntryAlreadyExists:          "entryAlreadyExists",
	ResultObjectClassModsProhibited:   "objectClassModsProhibited",
	ResultAffectsMultipleDSAs:         "affectsMultipleDSAs",
	ResultOther:                       "other",
}

func (c ResultCode) String() string {
	if name, ok := resultCodeNames[c]; ok {
		return name
	}
	return "resultCode(" + strconv.Itoa(int(c)) + ")"
}

// success reports whether code is the unique ResultSuccess code.
func (c ResultCode) success() bool { return c == ResultSuccess }
