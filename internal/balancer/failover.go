package balancer

import (
	"errors"
	"fmt"
)

// ErrNotFound 所有模型与层级均无可用候选
var ErrNotFound = errors.New("no failover candidate found")

// ==================== 接口定义 ====================

// Catalog 选择器所需的注册表视图
type Catalog interface {
	// ResolveDefaultProvider 返回模型在注册表中的默认供应商
	ResolveDefaultProvider(model string) (string, error)

	// IsWorking 供应商是否在当前可用集合中
	IsWorking(provider string) bool

	// Supports 供应商是否声明支持该模型
	Supports(provider, model string) bool

	// WorkingSet 可用集合，按注册表顺序
	WorkingSet() []string
}

// SuccessQuerier 最近成功记录查询
type SuccessQuerier interface {
	// Query 返回去重后的供应商名，最近的在前；model 为空时不过滤
	Query(model string) []string
}

// ==================== 类型定义 ====================

// Candidate 一次尝试的 (模型, 供应商) 组合
type Candidate struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s@%s", c.Model, c.Provider)
}

// ExclusionSet 单次请求内已尝试并被拒绝的组合
type ExclusionSet map[Candidate]struct{}

// NewExclusionSet 创建排除集合
func NewExclusionSet(candidates ...Candidate) ExclusionSet {
	set := make(ExclusionSet, len(candidates))
	for _, c := range candidates {
		set.Add(c)
	}
	return set
}

// Add 加入组合
func (s ExclusionSet) Add(c Candidate) {
	s[c] = struct{}{}
}

// Has 组合是否已排除
func (s ExclusionSet) Has(c Candidate) bool {
	_, ok := s[c]
	return ok
}

// ==================== 选择算法 ====================

// Select 按优先级列表选出下一个候选
//
// 对每个模型依次评估四个层级:
//  1. 该模型最近成功过的供应商
//  2. 模型的默认供应商（需在可用集合中）
//  3. 任意模型最近成功过的供应商
//  4. 可用集合中任何支持该模型的供应商
//
// 无法解析默认供应商的模型直接跳过且不消耗 skip；
// skip > 0 时整个模型被跳过并递减 skip。
// 相同输入总是得到相同输出。
func Select(
	models []string,
	catalog Catalog,
	recent SuccessQuerier,
	excluded ExclusionSet,
	skip int,
) (Candidate, error) {
	for _, model := range models {
		defaultProvider, err := catalog.ResolveDefaultProvider(model)
		if err != nil || defaultProvider == "" {
			continue
		}

		if skip > 0 {
			skip--
			continue
		}

		if c, ok := selectForModel(model, defaultProvider, catalog, recent, excluded); ok {
			return c, nil
		}
	}

	return Candidate{}, ErrNotFound
}

// selectForModel 对单个模型评估四个层级
func selectForModel(
	model, defaultProvider string,
	catalog Catalog,
	recent SuccessQuerier,
	excluded ExclusionSet,
) (Candidate, bool) {
	available := func(provider string) bool {
		return catalog.IsWorking(provider) && catalog.Supports(provider, model)
	}
	usable := func(provider string) (Candidate, bool) {
		c := Candidate{Model: model, Provider: provider}
		return c, !excluded.Has(c)
	}

	// 层级 1
	if recent != nil {
		for _, provider := range recent.Query(model) {
			if !available(provider) {
				continue
			}
			if c, ok := usable(provider); ok {
				return c, true
			}
		}
	}

	// 层级 2
	if catalog.IsWorking(defaultProvider) {
		if c, ok := usable(defaultProvider); ok {
			return c, true
		}
	}

	// 层级 3
	if recent != nil {
		for _, provider := range recent.Query("") {
			if !available(provider) {
				continue
			}
			if c, ok := usable(provider); ok {
				return c, true
			}
		}
	}

	// 层级 4
	for _, provider := range catalog.WorkingSet() {
		if !catalog.Supports(provider, model) {
			continue
		}
		if c, ok := usable(provider); ok {
			return c, true
		}
	}

	return Candidate{}, false
}

// BestModelForProvider 在供应商支持的模型中选出优先级最高的一个
// 不在优先级列表中的模型排在所有已列出模型之后，保持声明顺序
func BestModelForProvider(priority []string, supported []string) (string, bool) {
	if len(supported) == 0 {
		return "", false
	}

	rank := make(map[string]int, len(priority))
	for i, model := range priority {
		if _, seen := rank[model]; !seen {
			rank[model] = i
		}
	}

	best := supported[0]
	bestRank, listed := rank[best]
	if !listed {
		bestRank = len(priority)
	}
	for _, model := range supported[1:] {
		r, ok := rank[model]
		if !ok {
			r = len(priority)
		}
		if r < bestRank {
			best, bestRank = model, r
		}
	}

	return best, true
}
