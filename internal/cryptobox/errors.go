package cryptobox

import "fmt"

// DecryptError reports a failed decryption: authentication failure, wrong
// passphrase or unsupported scheme. The ledger is left untouched.
type DecryptError struct {
	Reason string
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("decrypt failed: %s", e.Reason)
}

// CorruptArchiveError reports a malformed envelope or a decrypted body that
// does not verify. The ledger is left untouched.
type CorruptArchiveError struct {
	Detail string
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt archive: %s", e.Detail)
}
