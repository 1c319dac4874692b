package server

import (
	"fmt"

	"github.com/aulacast/aulacast/internal/drive"
	"github.com/aulacast/aulacast/internal/ingest"
	"github.com/aulacast/aulacast/internal/moodle"
	"github.com/aulacast/aulacast/internal/store"
	"github.com/aulacast/aulacast/internal/zoom"
)

// Services holds the wired collaborators behind the HTTP surface.
type Services struct {
	Store  *store.Store
	Zoom   *zoom.Client
	Moodle *moodle.Client
	Drive  *drive.Client
	Ingest *ingest.Service
}

func NewServices(config *Config) (*Services, error) {
	st, err := store.Open(config.DBPath)
	if err != nil {
		return nil, err
	}

	zoomClient, err := zoom.New(&config.Zoom)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("zoom client: %w", err)
	}

	moodleClient, err := moodle.New(&config.Moodle)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("moodle client: %w", err)
	}

	driveClient, err := drive.New(&config.Drive)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("drive client: %w", err)
	}

	ingestSvc := ingest.NewService(
		&config.Ingest,
		st,
		zoomClient,
		driveClient,
		moodleClient,
		ingest.NewAlerter(&config.Alerts),
	)

	return &Services{
		Store:  st,
		Zoom:   zoomClient,
		Moodle: moodleClient,
		Drive:  driveClient,
		Ingest: ingestSvc,
	}, nil
}

func (s *Services) Close() error {
	return s.Store.Close()
}
