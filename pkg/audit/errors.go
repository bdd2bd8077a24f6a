package audit

import (
	"errors"
	"fmt"
)

var errGenesis = errors.New("audit: genesis event has non-empty prev hash")

func errLinkBroken(i int) error {
	return fmt.Errorf("audit: chain broken at seq %d: prev hash mismatch", i)
}

func errContentTampered(i int) error {
	return fmt.Errorf("audit: content tampered at seq %d: hash mismatch", i)
}
