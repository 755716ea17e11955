package extract

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// 分类桶名
const (
	BucketRevenue     = "revenue"
	BucketCost        = "cost"
	BucketProfit      = "profit"
	BucketReceivables = "receivables"
)

// SubRule 子项规则，按列表顺序优先匹配
type SubRule struct {
	Key      string   `yaml:"key"`
	Keywords []string `yaml:"keywords"`
}

// CategoryRule 类目规则
// Default 为类目命中但子项全部未命中时的落桶键，空串表示不落桶
type CategoryRule struct {
	Match   []string  `yaml:"match"`
	Sub     []SubRule `yaml:"sub"`
	Default string    `yaml:"default"`
}

// classify 对标签做子项归类
func (c CategoryRule) classify(label string) (string, bool) {
	if !containsAny(label, c.Match) {
		return "", false
	}
	for _, sub := range c.Sub {
		if containsAny(label, sub.Keywords) {
			return sub.Key, true
		}
	}
	if c.Default != "" {
		return c.Default, true
	}
	// 类目命中但无落桶键，视为已消费，阻止后续类目再匹配
	return "", true
}

// Rules 财务提取关键词规则
type Rules struct {
	TotalsKeywords       []string     `yaml:"totals_keywords"`
	ReceivablesRowLabels []string     `yaml:"receivables_row_labels"`
	Revenue              CategoryRule `yaml:"revenue"`
	Cost                 CategoryRule `yaml:"cost"`
	Profit               CategoryRule `yaml:"profit"`
	Receivables          CategoryRule `yaml:"receivables"`
}

// Classify 按固定优先级归类行标签
// 返回 (桶名, 子项键, 是否命中)，子项键为空表示类目命中但不落桶
func (r *Rules) Classify(label string) (string, string, bool) {
	if key, ok := r.Revenue.classify(label); ok {
		return BucketRevenue, key, true
	}
	if key, ok := r.Cost.classify(label); ok {
		return BucketCost, key, true
	}
	if key, ok := r.Profit.classify(label); ok {
		return BucketProfit, key, true
	}
	if key, ok := r.Receivables.classify(label); ok {
		return BucketReceivables, key, true
	}
	return "", "", false
}

// IsTotalsHeader 判断表头是否为合计列
func (r *Rules) IsTotalsHeader(header string) bool {
	h := strings.ToLower(strings.TrimSpace(header))
	if h == "" {
		return false
	}
	for _, kw := range r.TotalsKeywords {
		if strings.Contains(h, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// MatchesReceivablesLabel 判断行标签是否为应收未收行
func (r *Rules) MatchesReceivablesLabel(label string) bool {
	return containsAny(label, r.ReceivablesRowLabels)
}

func (r *Rules) validate() error {
	if len(r.TotalsKeywords) == 0 {
		return fmt.Errorf("totals_keywords 不能为空")
	}
	if len(r.ReceivablesRowLabels) == 0 {
		return fmt.Errorf("receivables_row_labels 不能为空")
	}
	for name, cat := range map[string]CategoryRule{
		BucketRevenue:     r.Revenue,
		BucketCost:        r.Cost,
		BucketProfit:      r.Profit,
		BucketReceivables: r.Receivables,
	} {
		if len(cat.Match) == 0 {
			return fmt.Errorf("类目 %s 缺少 match 关键词", name)
		}
	}
	return nil
}

// DefaultRules 内置规则
func DefaultRules() *Rules {
	rules, err := parseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("内置规则不合法: %v", err))
	}
	return rules
}

// LoadRules 从文件加载规则，path 为空时返回内置规则
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取规则文件: %w", err)
	}
	rules, err := parseRules(data)
	if err != nil {
		return nil, fmt.Errorf("解析规则文件 %s: %w", path, err)
	}
	return rules, nil
}

func parseRules(data []byte) (*Rules, error) {
	rules := &Rules{}
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, err
	}
	if err := rules.validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
