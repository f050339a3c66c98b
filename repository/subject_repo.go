package repository

import (
	"context"
	"fmt"

	"carebell-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GormSubjectRepo struct {
	db *gorm.DB
}

func NewSubjectRepo(db *gorm.DB) *GormSubjectRepo {
	return &GormSubjectRepo{db: db}
}

func (r *GormSubjectRepo) GetMedicine(ctx context.Context, id uuid.UUID) (*models.Medicine, error) {
	var m models.Medicine
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *GormSubjectRepo) GetAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	var a models.Appointment
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (r *GormSubjectRepo) GetProfile(ctx context.Context, id uuid.UUID) (*models.ElderlyProfile, error) {
	var p models.ElderlyProfile
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *GormSubjectRepo) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *GormSubjectRepo) ListFamilyContacts(ctx context.Context, elderlyID uuid.UUID) ([]FamilyMember, error) {
	var contacts []models.FamilyContact
	err := r.db.WithContext(ctx).
		Where("elderly_id = ? AND notification_enabled = ?", elderlyID, true).
		Order("is_primary_contact DESC, created_at ASC").
		Find(&contacts).Error
	if err != nil {
		return nil, fmt.Errorf("list family contacts: %w", err)
	}
	if len(contacts) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(contacts))
	for _, c := range contacts {
		ids = append(ids, c.UserID)
	}
	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load family users: %w", err)
	}
	byID := make(map[uuid.UUID]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	members := make([]FamilyMember, 0, len(contacts))
	for _, c := range contacts {
		u, ok := byID[c.UserID]
		if !ok {
			continue
		}
		members = append(members, FamilyMember{Contact: c, User: u})
	}
	return members, nil
}
