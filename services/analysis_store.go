package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"styleaiapi/models"
)

var ErrAnalysisNotFound = errors.New("analysis not found")

// AnalysisStore keeps phase-one model output and the renders produced from it.
type AnalysisStore interface {
	SaveAnalysis(ctx context.Context, analysis *models.OutfitAnalysis) error
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.OutfitAnalysis, error)
	SaveRender(ctx context.Context, render *models.OutfitRender) error
	// History returns the caller's newest analyses with their renders.
	History(ctx context.Context, uid string, limit int) ([]models.OutfitAnalysis, error)
	// PurgeExpired deletes analyses (and renders) that expired before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

type GormAnalysisStore struct {
	DB *gorm.DB
}

func (s *GormAnalysisStore) SaveAnalysis(ctx context.Context, analysis *models.OutfitAnalysis) error {
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}
	return s.DB.WithContext(ctx).Create(analysis).Error
}

func (s *GormAnalysisStore) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.OutfitAnalysis, error) {
	var analysis models.OutfitAnalysis
	if err := s.DB.WithContext(ctx).First(&analysis, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("load analysis %s: %w", id, err)
	}
	return &analysis, nil
}

func (s *GormAnalysisStore) SaveRender(ctx context.Context, render *models.OutfitRender) error {
	return s.DB.WithContext(ctx).Create(render).Error
}

func (s *GormAnalysisStore) History(ctx context.Context, uid string, limit int) ([]models.OutfitAnalysis, error) {
	var analyses []models.OutfitAnalysis
	err := s.DB.WithContext(ctx).
		Preload("Renders", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("uid = ?", uid).
		Order("created_at DESC").
		Limit(limit).
		Find(&analyses).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return analyses, nil
}

func (s *GormAnalysisStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&models.OutfitAnalysis{}).Select("id").Where("expires_at < ?", now)
		if err := tx.Where("analysis_id IN (?)", expired).Delete(&models.OutfitRender{}).Error; err != nil {
			return err
		}
		res := tx.Where("expires_at < ?", now).Delete(&models.OutfitAnalysis{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("purge analyses: %w", err)
	}
	return deleted, nil
}

func (s *GormAnalysisStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.OutfitAnalysis{}).Where("created_at >= ?", since).Count(&n).Error
	return n, err
}

type MemoryAnalysisStore struct {
	mu       sync.Mutex
	analyses map[uuid.UUID]models.OutfitAnalysis
	renders  []models.OutfitRender
	nextID   uint
}

func NewMemoryAnalysisStore() *MemoryAnalysisStore {
	return &MemoryAnalysisStore{analyses: map[uuid.UUID]models.OutfitAnalysis{}}
}

func (s *MemoryAnalysisStore) SaveAnalysis(ctx context.Context, analysis *models.OutfitAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now()
	}
	s.analyses[analysis.ID] = *analysis
	return nil
}

func (s *MemoryAnalysisStore) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.OutfitAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[id]
	if !ok {
		return nil, ErrAnalysisNotFound
	}
	return &a, nil
}

func (s *MemoryAnalysisStore) SaveRender(ctx context.Context, render *models.OutfitRender) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	render.ID = s.nextID
	if render.CreatedAt.IsZero() {
		render.CreatedAt = time.Now()
	}
	s.renders = append(s.renders, *render)
	return nil
}

func (s *MemoryAnalysisStore) History(ctx context.Context, uid string, limit int) ([]models.OutfitAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OutfitAnalysis
	for _, a := range s.analyses {
		if a.UID != uid {
			continue
		}
		a.Renders = nil
		for _, r := range s.renders {
			if r.AnalysisID != nil && *r.AnalysisID == a.ID {
				a.Renders = append(a.Renders, r)
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryAnalysisStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, a := range s.analyses {
		if a.ExpiresAt.Before(now) {
			delete(s.analyses, id)
			deleted++
		}
	}
	kept := s.renders[:0]
	for _, r := range s.renders {
		if r.AnalysisID != nil {
			if _, ok := s.analyses[*r.AnalysisID]; !ok {
				continue
			}
		}
		kept = append(kept, r)
	}
	s.renders = kept
	return deleted, nil
}

func (s *MemoryAnalysisStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.analyses {
		if !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}
