package provider

import "github.com/Mieluoxxx/NoFail-API/internal/models"

// Descriptor 供应商描述
// SupportedModels 与 DefaultModel 都是可选的
type Descriptor struct {
	Name            string   `json:"name"`
	BaseURL         string   `json:"base_url"`
	APIKey          string   `json:"-"`
	SupportedModels []string `json:"supported_models,omitempty"` // 声明顺序
	DefaultModel    string   `json:"default_model,omitempty"`
}

// NewDescriptor 从数据库记录构建描述
func NewDescriptor(p *models.Provider) *Descriptor {
	return &Descriptor{
		Name:            p.Name,
		BaseURL:         p.BaseURL,
		APIKey:          p.APIKey,
		SupportedModels: p.ModelNames(),
		DefaultModel:    p.DefaultModel,
	}
}

// Declares 供应商自身是否声明了该模型
func (d *Descriptor) Declares(model string) bool {
	if d.DefaultModel == model {
		return true
	}
	for _, m := range d.SupportedModels {
		if m == model {
			return true
		}
	}
	return false
}
