// Package profile persists owners, their extracted profiles, and their
// search preferences.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/zulandar/jobscout/internal/models"
	"github.com/zulandar/jobscout/internal/worker"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when an owner has no profile.
var ErrNotFound = errors.New("profile: not found")

// Store reads and writes profiles.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("profile: db is required")
	}
	return &Store{db: db}, nil
}

// CreateOwner mints a new owner identity.
func (s *Store) CreateOwner(ctx context.Context, name string) (*models.Owner, error) {
	o := &models.Owner{ID: uuid.NewString(), Name: name}
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return nil, fmt.Errorf("profile: create owner: %w", err)
	}
	return o, nil
}

// EnsureOwner returns the owner with the given id, creating it if needed.
// Callers that identify themselves with a user id keep that id as owner.
func (s *Store) EnsureOwner(ctx context.Context, id string) (*models.Owner, error) {
	if id == "" {
		return nil, fmt.Errorf("profile: ensure owner: id is required")
	}
	o := &models.Owner{ID: id}
	if err := s.db.WithContext(ctx).Where(models.Owner{ID: id}).FirstOrCreate(o).Error; err != nil {
		return nil, fmt.Errorf("profile: ensure owner %s: %w", id, err)
	}
	return o, nil
}

// Save stores the owner's profile, replacing any earlier one.
func (s *Store) Save(ctx context.Context, ownerID string, p worker.Profile, rawText string) error {
	if ownerID == "" {
		return fmt.Errorf("profile: save: owner id is required")
	}
	skills, err := json.Marshal(p.Skills)
	if err != nil {
		return fmt.Errorf("profile: save %s: %w", ownerID, err)
	}
	titles, err := json.Marshal(p.Titles)
	if err != nil {
		return fmt.Errorf("profile: save %s: %w", ownerID, err)
	}
	row := &models.Profile{
		OwnerID:         ownerID,
		Skills:          string(skills),
		ExperienceYears: p.ExperienceYears,
		Titles:          string(titles),
		Summary:         p.Summary,
		RawText:         rawText,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"skills", "experience_years", "titles", "summary", "raw_text", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("profile: save %s: %w", ownerID, err)
	}
	return nil
}

// Get loads the owner's profile.
func (s *Store) Get(ctx context.Context, ownerID string) (*worker.Profile, error) {
	var row models.Profile
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: owner %s", ErrNotFound, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %s: %w", ownerID, err)
	}
	p := &worker.Profile{ExperienceYears: row.ExperienceYears, Summary: row.Summary}
	if err := unmarshalList(row.Skills, &p.Skills); err != nil {
		return nil, fmt.Errorf("profile: get %s: skills: %w", ownerID, err)
	}
	if err := unmarshalList(row.Titles, &p.Titles); err != nil {
		return nil, fmt.Errorf("profile: get %s: titles: %w", ownerID, err)
	}
	return p, nil
}

// Preferences returns the owner's preferences, or defaults if none are
// stored.
func (s *Store) Preferences(ctx context.Context, ownerID string) (worker.Preferences, error) {
	var row models.Preferences
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return worker.DefaultPreferences(), nil
	}
	if err != nil {
		return worker.Preferences{}, fmt.Errorf("profile: preferences %s: %w", ownerID, err)
	}
	p := worker.Preferences{LocationType: row.LocationType, MinSalary: row.MinSalary}
	if err := unmarshalList(row.TargetRoles, &p.TargetRoles); err != nil {
		return worker.Preferences{}, fmt.Errorf("profile: preferences %s: %w", ownerID, err)
	}
	if err := unmarshalList(row.ExcludedOrgs, &p.ExcludedOrgs); err != nil {
		return worker.Preferences{}, fmt.Errorf("profile: preferences %s: %w", ownerID, err)
	}
	if p.LocationType == "" {
		p.LocationType = worker.LocationAny
	}
	return p, nil
}

// SavePreferences stores the owner's preferences.
func (s *Store) SavePreferences(ctx context.Context, ownerID string, p worker.Preferences) error {
	if ownerID == "" {
		return fmt.Errorf("profile: save preferences: owner id is required")
	}
	roles, _ := json.Marshal(nonNil(p.TargetRoles))
	orgs, _ := json.Marshal(nonNil(p.ExcludedOrgs))
	loc := p.LocationType
	if loc == "" {
		loc = worker.LocationAny
	}
	row := &models.Preferences{
		OwnerID:      ownerID,
		LocationType: loc,
		TargetRoles:  string(roles),
		ExcludedOrgs: string(orgs),
		MinSalary:    p.MinSalary,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"location_type", "target_roles", "excluded_orgs", "min_salary", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("profile: save preferences %s: %w", ownerID, err)
	}
	return nil
}

// OwnersWithProfile lists every owner that has a stored profile.
func (s *Store) OwnersWithProfile(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Profile{}).
		Order("owner_id ASC").Pluck("owner_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("profile: list owners: %w", err)
	}
	return ids, nil
}

func unmarshalList(data string, out *[]string) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
