package analytics

import (
	"context"
	"sort"
	"time"

	"aegis-antinuke/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Offender struct {
	UserID string
	Count  int
}

// Report summarises a guild's punishment history since a point in time.
type Report struct {
	Total        int
	Applied      int
	Reverted     int
	ByAction     map[string]int
	ByPunishment map[string]int
	Offenders    []Offender
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListPunishments(ctx, guildID, "", since, 0)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		ByAction:     make(map[string]int),
		ByPunishment: make(map[string]int),
	}
	perUser := make(map[string]int)
	for _, log := range logs {
		report.Total++
		if log.Applied {
			report.Applied++
		}
		report.Reverted += log.ActionsReverted
		report.ByAction[log.ActionType]++
		report.ByPunishment[log.PunishmentType]++
		perUser[log.UserID]++
	}

	for userID, count := range perUser {
		report.Offenders = append(report.Offenders, Offender{UserID: userID, Count: count})
	}
	sort.Slice(report.Offenders, func(i, j int) bool {
		if report.Offenders[i].Count != report.Offenders[j].Count {
			return report.Offenders[i].Count > report.Offenders[j].Count
		}
		return report.Offenders[i].UserID < report.Offenders[j].UserID
	})
	return report, nil
}
