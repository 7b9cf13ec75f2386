package omix

import "fmt"

// writeAttempt performs one transport write, with or without response.
type writeAttempt func(noRsp bool) error

// writeWithFallback first attempts an acknowledged write and, should that
// fail (some firmware revisions reject write-with-response on the data
// characteristic), retries the same payload without response. The returned
// error preserves the failure of whichever attempt ran last.
func writeWithFallback(attempt writeAttempt) error {
	if err := attempt(false); err == nil {
		return nil
	}
	if err := attempt(true); err != nil {
		return fmt.Errorf("failed to write characteristic (with and without response): %w", err)
	}
	return nil
}
