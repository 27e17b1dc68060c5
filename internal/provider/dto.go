package provider

// CatalogFile 供应商目录文件（YAML）
type CatalogFile struct {
	Providers []ProviderEntry `yaml:"providers" validate:"required,min=1,dive"`
	Models    []ModelEntry    `yaml:"models" validate:"dive"`
}

// ProviderEntry 目录中的一个供应商
type ProviderEntry struct {
	Name         string   `yaml:"name" validate:"required"`
	BaseURL      string   `yaml:"base_url" validate:"required,url"`
	APIKey       string   `yaml:"api_key"`
	DefaultModel string   `yaml:"default_model"`
	Models       []string `yaml:"models" validate:"dive,required"`
	Enabled      *bool    `yaml:"enabled"`
}

// ModelEntry 目录中的一个模型及其默认供应商
type ModelEntry struct {
	Name            string `yaml:"name" validate:"required"`
	DefaultProvider string `yaml:"default_provider"`
}

// SeedResult 目录导入结果
type SeedResult struct {
	Providers int `json:"providers"`
	Models    int `json:"models"`
	Disabled  int `json:"disabled"` // 已从目录移除而被禁用的供应商
}
