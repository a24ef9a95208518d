package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/AzielCF/az-inbox/pkg/crypto"
	pkgError "github.com/AzielCF/az-inbox/pkg/error"
	"github.com/AzielCF/az-inbox/tenant/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- Persistence Models ---
// These tables are owned by the admin UI; the pipeline only reads them.

type instanceModel struct {
	ID          string `gorm:"primaryKey;column:id"`
	ClientID    string `gorm:"column:client_id;not null;index"`
	GatewayName string `gorm:"column:gateway_name;not null;uniqueIndex"`
	Status      string `gorm:"column:status;default:'disconnected'"`
}

func (instanceModel) TableName() string { return "instances" }

type queueModel struct {
	ID          string `gorm:"primaryKey;column:id"`
	ClientID    string `gorm:"column:client_id;not null;index"`
	Name        string `gorm:"column:name"`
	AssistantID string `gorm:"column:assistant_id"`
	Active      bool   `gorm:"column:active;default:false"`
}

func (queueModel) TableName() string { return "queues" }

type assistantModel struct {
	ID               string  `gorm:"primaryKey;column:id"`
	ClientID         string  `gorm:"column:client_id;not null;index"`
	Name             string  `gorm:"column:name"`
	Provider         string  `gorm:"column:provider;default:'openai'"`
	Model            string  `gorm:"column:model"`
	SystemPrompt     string  `gorm:"column:system_prompt;type:text"`
	Temperature      float64 `gorm:"column:temperature;default:0.7"`
	MaxTokens        int     `gorm:"column:max_tokens;default:500"`
	FallbackResponse string  `gorm:"column:fallback_response;type:text"`
	VoiceEnabled     bool    `gorm:"column:voice_enabled;default:false"`
	VoiceID          string  `gorm:"column:voice_id"`
	Active           bool    `gorm:"column:active;default:true"`
}

func (assistantModel) TableName() string { return "assistants" }

type credentialsModel struct {
	ClientID    string `gorm:"primaryKey;column:client_id"`
	Provider    string `gorm:"primaryKey;column:provider"`
	APIKey      string `gorm:"column:api_key"`
	BaseURL     string `gorm:"column:base_url"`
	VoiceAPIKey string `gorm:"column:voice_api_key"`
}

func (credentialsModel) TableName() string { return "ai_credentials" }

// DirectoryGormRepository implements domain.Directory.
type DirectoryGormRepository struct {
	db     *gorm.DB
	cipher *crypto.Cipher
}

func NewDirectoryGormRepository(db *gorm.DB) *DirectoryGormRepository {
	return &DirectoryGormRepository{db: db}
}

// WithCipher makes credential keys sealed at rest.
func (r *DirectoryGormRepository) WithCipher(c *crypto.Cipher) *DirectoryGormRepository {
	r.cipher = c
	return r
}

func (r *DirectoryGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&instanceModel{},
		&queueModel{},
		&assistantModel{},
		&credentialsModel{},
	)
}

func (r *DirectoryGormRepository) ResolveInstance(ctx context.Context, key string) (*domain.Instance, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrNotFound
	}
	var m instanceModel
	err := r.db.WithContext(ctx).Where("id = ? OR gateway_name = ?", key, key).First(&m).Error
	if err != nil {
		return nil, r.lookupErr("resolve instance", err)
	}
	return toInstance(m), nil
}

// ConnectedInstance prefers preferredID when it is connected, else any
// connected instance of the client.
func (r *DirectoryGormRepository) ConnectedInstance(ctx context.Context, clientID, preferredID string) (*domain.Instance, error) {
	var rows []instanceModel
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND status = ?", clientID, string(domain.InstanceConnected)).
		Order("id").Find(&rows).Error
	if err != nil {
		return nil, r.lookupErr("connected instance", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	for _, m := range rows {
		if m.ID == preferredID {
			return toInstance(m), nil
		}
	}
	return toInstance(rows[0]), nil
}

// ActiveQueue returns queueID when it is active and linked to an assistant,
// otherwise the first such queue of the client.
func (r *DirectoryGormRepository) ActiveQueue(ctx context.Context, clientID, queueID string) (*domain.Queue, error) {
	var rows []queueModel
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND active = ? AND assistant_id <> ''", clientID, true).
		Order("name").Find(&rows).Error
	if err != nil {
		return nil, r.lookupErr("active queue", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	m := rows[0]
	for _, row := range rows {
		if row.ID == queueID {
			m = row
			break
		}
	}
	return &domain.Queue{ID: m.ID, ClientID: m.ClientID, Name: m.Name, AssistantID: m.AssistantID, Active: m.Active}, nil
}

func (r *DirectoryGormRepository) GetAssistant(ctx context.Context, assistantID string) (*domain.Assistant, error) {
	var m assistantModel
	if err := r.db.WithContext(ctx).Where("id = ? AND active = ?", assistantID, true).First(&m).Error; err != nil {
		return nil, r.lookupErr("get assistant", err)
	}
	return &domain.Assistant{
		ID:               m.ID,
		ClientID:         m.ClientID,
		Name:             m.Name,
		Provider:         m.Provider,
		Model:            m.Model,
		SystemPrompt:     m.SystemPrompt,
		Temperature:      m.Temperature,
		MaxTokens:        m.MaxTokens,
		FallbackResponse: m.FallbackResponse,
		VoiceEnabled:     m.VoiceEnabled,
		VoiceID:          m.VoiceID,
		Active:           m.Active,
	}, nil
}

func (r *DirectoryGormRepository) GetCredentials(ctx context.Context, clientID, provider string) (*domain.Credentials, error) {
	var m credentialsModel
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND provider = ? AND api_key <> ''", clientID, provider).
		First(&m).Error
	if err != nil {
		return nil, r.lookupErr("get credentials", err)
	}
	apiKey, err := r.cipher.Decrypt(m.APIKey)
	if err != nil {
		return nil, pkgError.NewStorageError("decrypt api key", err)
	}
	voiceKey, err := r.cipher.Decrypt(m.VoiceAPIKey)
	if err != nil {
		return nil, pkgError.NewStorageError("decrypt voice api key", err)
	}
	return &domain.Credentials{
		ClientID:    m.ClientID,
		Provider:    m.Provider,
		APIKey:      apiKey,
		BaseURL:     m.BaseURL,
		VoiceAPIKey: voiceKey,
	}, nil
}

// Seed upserts a snapshot in one transaction. Credential keys are sealed
// when a cipher is configured.
func (r *DirectoryGormRepository) Seed(ctx context.Context, snap domain.Snapshot) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := tx.Clauses(clause.OnConflict{UpdateAll: true})
		for _, in := range snap.Instances {
			status := in.Status
			if status == "" {
				status = domain.InstanceDisconnected
			}
			m := instanceModel{ID: in.ID, ClientID: in.ClientID, GatewayName: in.GatewayName, Status: string(status)}
			if err := upsert.Create(&m).Error; err != nil {
				return err
			}
		}
		for _, q := range snap.Queues {
			m := queueModel{ID: q.ID, ClientID: q.ClientID, Name: q.Name, AssistantID: q.AssistantID, Active: q.Active}
			if err := upsert.Create(&m).Error; err != nil {
				return err
			}
		}
		for _, a := range snap.Assistants {
			m := assistantModel{
				ID:               a.ID,
				ClientID:         a.ClientID,
				Name:             a.Name,
				Provider:         a.Provider,
				Model:            a.Model,
				SystemPrompt:     a.SystemPrompt,
				Temperature:      a.Temperature,
				MaxTokens:        a.MaxTokens,
				FallbackResponse: a.FallbackResponse,
				VoiceEnabled:     a.VoiceEnabled,
				VoiceID:          a.VoiceID,
				Active:           a.Active,
			}
			if err := upsert.Create(&m).Error; err != nil {
				return err
			}
			// a zero bool is replaced by the column default on insert
			if !a.Active {
				if err := tx.Model(&assistantModel{}).Where("id = ?", a.ID).Update("active", false).Error; err != nil {
					return err
				}
			}
		}
		for _, c := range snap.Credentials {
			apiKey, err := r.cipher.Encrypt(c.APIKey)
			if err != nil {
				return err
			}
			voiceKey, err := r.cipher.Encrypt(c.VoiceAPIKey)
			if err != nil {
				return err
			}
			m := credentialsModel{ClientID: c.ClientID, Provider: c.Provider, APIKey: apiKey, BaseURL: c.BaseURL, VoiceAPIKey: voiceKey}
			if err := upsert.Create(&m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pkgError.NewStorageError("seed directory", err)
	}
	return nil
}

func (r *DirectoryGormRepository) lookupErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return pkgError.NewStorageError(op, err)
}

func toInstance(m instanceModel) *domain.Instance {
	return &domain.Instance{
		ID:          m.ID,
		ClientID:    m.ClientID,
		GatewayName: m.GatewayName,
		Status:      domain.InstanceStatus(m.Status),
	}
}
