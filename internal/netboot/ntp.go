package netboot

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// TimeSource measures how far the local clock is off
type TimeSource interface {
	Offset(ctx context.Context) (time.Duration, error)
}

// SNTP queries a single NTP server
type SNTP struct {
	Server  string
	Timeout time.Duration
}

// Offset returns the correction to add to the local clock
func (s *SNTP) Offset(ctx context.Context) (time.Duration, error) {
	timeout := s.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout == 0 || left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("ntp %s: %w", s.Server, context.DeadlineExceeded)
	}

	resp, err := ntp.QueryWithOptions(s.Server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, fmt.Errorf("ntp %s: %w", s.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("ntp %s: %w", s.Server, err)
	}
	return resp.ClockOffset, nil
}
