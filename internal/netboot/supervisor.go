package netboot

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Mode is how the controller ended up on the network
type Mode string

const (
	ModeStation     Mode = "station"
	ModeAccessPoint Mode = "access_point"
)

// Config holds boot supervisor configuration
type Config struct {
	AssociateTimeout time.Duration
	AccessPoint      AccessPoint
	NTPTimeout       time.Duration
	MDNSInstance     string // empty disables advertisement
	HTTPPort         int
	TXT              []string
}

// DefaultConfig returns default supervisor configuration
func DefaultConfig() Config {
	return Config{
		AssociateTimeout: 30 * time.Second,
		AccessPoint:      DefaultAccessPoint(),
		NTPTimeout:       5 * time.Second,
		MDNSInstance:     "relay-controller",
		HTTPPort:         5000,
	}
}

// SkewSetter accepts the measured clock correction
type SkewSetter interface {
	SetSkew(time.Duration)
}

// Result describes the outcome of Boot
type Result struct {
	Mode    Mode
	SSID    string
	Address net.IP
	Skew    time.Duration
	Synced  bool
}

// Supervisor runs the boot sequence. Time sync and advertisement are
// optional; leave their collaborators nil to skip them.
type Supervisor struct {
	config      Config
	credentials *CredentialStore
	network     Network
	timeSource  TimeSource
	clock       SkewSetter
	advertiser  Advertiser

	mu       sync.Mutex
	shutdown func()
}

// NewSupervisor creates a supervisor
func NewSupervisor(config Config, creds *CredentialStore, network Network, ts TimeSource, clock SkewSetter, adv Advertiser) *Supervisor {
	return &Supervisor{
		config:      config,
		credentials: creds,
		network:     network,
		timeSource:  ts,
		clock:       clock,
		advertiser:  adv,
	}
}

// Boot brings the controller onto the network. It fails only when neither
// the station network nor the access point can be brought up.
func (s *Supervisor) Boot(ctx context.Context) (*Result, error) {
	res := &Result{}
	creds := s.credentials.Load()

	if err := s.associate(ctx, creds); err != nil {
		log.WithField("ssid", creds.SSID).WithError(err).Warn("Station association failed, starting access point")

		if apErr := s.network.StartAccessPoint(ctx, s.config.AccessPoint); apErr != nil {
			return nil, fmt.Errorf("failed to join %q (%v) and failed to start access point: %w", creds.SSID, err, apErr)
		}
		res.Mode = ModeAccessPoint
		res.SSID = s.config.AccessPoint.SSID
		log.WithField("ssid", res.SSID).Info("Access point started")
	} else {
		res.Mode = ModeStation
		res.SSID = creds.SSID
		log.WithField("ssid", res.SSID).Info("Connected to network")
	}

	if ip, err := s.network.Address(ctx); err != nil {
		log.WithError(err).Warn("Failed to read address")
	} else {
		res.Address = ip
		log.WithField("address", ip).Info("Network address")
	}

	if res.Mode == ModeStation {
		s.syncClock(ctx, res)
	}

	if err := s.advertise(); err != nil {
		log.WithError(err).Warn("Failed to advertise service")
	}
	return res, nil
}

// Shutdown withdraws the service advertisement
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	shutdown := s.shutdown
	s.shutdown = nil
	s.mu.Unlock()

	if shutdown != nil {
		shutdown()
	}
}

func (s *Supervisor) associate(ctx context.Context, creds Credentials) error {
	actx, cancel := context.WithTimeout(ctx, s.config.AssociateTimeout)
	defer cancel()
	return s.network.Associate(actx, creds)
}

func (s *Supervisor) syncClock(ctx context.Context, res *Result) {
	if s.timeSource == nil {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, s.config.NTPTimeout)
	defer cancel()

	offset, err := s.timeSource.Offset(tctx)
	if err != nil {
		log.WithError(err).Warn("Time sync failed, running on the local clock")
		return
	}
	res.Skew, res.Synced = offset, true
	if s.clock != nil {
		s.clock.SetSkew(offset)
	}
	log.WithField("offset", offset).Info("Clock synchronized")
}

func (s *Supervisor) advertise() error {
	if s.advertiser == nil || s.config.MDNSInstance == "" {
		return nil
	}
	shutdown, err := s.advertiser.Advertise(s.config.MDNSInstance, s.config.HTTPPort, s.config.TXT)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.shutdown = shutdown
	s.mu.Unlock()
	log.WithFields(log.Fields{"instance": s.config.MDNSInstance, "port": s.config.HTTPPort}).Info("Advertised HTTP service")
	return nil
}
