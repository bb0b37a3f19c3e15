package observability

import (
	"strings"
	"sync"
)

// ModelPrice 模型价格，单位 USD / 1K tokens
type ModelPrice struct {
	Provider    string  `yaml:"provider" json:"provider"`
	Model       string  `yaml:"model" json:"model"`
	PriceInput  float64 `yaml:"price_input" json:"price_input"`
	PriceOutput float64 `yaml:"price_output" json:"price_output"`
}

// CostCalculator 成本计算器
//
// 查价顺序：provider:model 精确匹配 → 任意 provider 下同名模型 →
// 模型名最长前缀匹配（"gpt-4o-2024-08-06" 按 "gpt-4o" 计价）。
// OpenAI 兼容网关通常以自己的名字作为 provider，所以需要后两步。
type CostCalculator struct {
	mu     sync.RWMutex
	prices map[string]ModelPrice // key: provider:model
}

// NewCostCalculator 创建带默认价格表的计算器
func NewCostCalculator() *CostCalculator {
	c := &CostCalculator{prices: make(map[string]ModelPrice)}
	c.UpdatePrices(defaultPrices)
	return c
}

var defaultPrices = []ModelPrice{
	{Provider: "openai", Model: "gpt-4o", PriceInput: 0.0025, PriceOutput: 0.01},
	{Provider: "openai", Model: "gpt-4o-mini", PriceInput: 0.00015, PriceOutput: 0.0006},
	{Provider: "openai", Model: "gpt-4.1", PriceInput: 0.002, PriceOutput: 0.008},
	{Provider: "openai", Model: "gpt-4-turbo", PriceInput: 0.01, PriceOutput: 0.03},
	{Provider: "openai", Model: "gpt-3.5-turbo", PriceInput: 0.0005, PriceOutput: 0.0015},
	{Provider: "openai", Model: "text-embedding-3-small", PriceInput: 0.00002},
	{Provider: "openai", Model: "text-embedding-3-large", PriceInput: 0.00013},
	{Provider: "deepseek", Model: "deepseek-chat", PriceInput: 0.00027, PriceOutput: 0.0011},
	{Provider: "qwen", Model: "qwen-turbo", PriceInput: 0.0008, PriceOutput: 0.002},
	{Provider: "qwen", Model: "qwen-plus", PriceInput: 0.004, PriceOutput: 0.012},
	{Provider: "qwen", Model: "qwen-max", PriceInput: 0.02, PriceOutput: 0.06},
	{Provider: "glm", Model: "glm-4", PriceInput: 0.014, PriceOutput: 0.014},
	{Provider: "glm", Model: "glm-4-flash", PriceInput: 0.0001, PriceOutput: 0.0001},
}

func priceKey(provider, model string) string {
	return provider + ":" + model
}

// SetPrice 设置模型价格
func (c *CostCalculator) SetPrice(provider, model string, priceInput, priceOutput float64) {
	c.UpdatePrices([]ModelPrice{{Provider: provider, Model: model, PriceInput: priceInput, PriceOutput: priceOutput}})
}

// UpdatePrices 批量更新价格（通常来自配置）
func (c *CostCalculator) UpdatePrices(prices []ModelPrice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range prices {
		c.prices[priceKey(p.Provider, p.Model)] = p
	}
}

// GetPrice 获取模型价格，找不到时返回 false
func (c *CostCalculator) GetPrice(provider, model string) (ModelPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.prices[priceKey(provider, model)]; ok {
		return p, true
	}

	var (
		best    ModelPrice
		bestLen int
	)
	for _, p := range c.prices {
		switch {
		case p.Model == model:
			return p, true
		case strings.HasPrefix(model, p.Model) && len(p.Model) > bestLen:
			best, bestLen = p, len(p.Model)
		}
	}
	return best, bestLen > 0
}

// Calculate 计算成本，未知模型返回 0
func (c *CostCalculator) Calculate(provider, model string, tokensInput, tokensOutput int) float64 {
	price, ok := c.GetPrice(provider, model)
	if !ok {
		return 0
	}
	return float64(tokensInput)/1000*price.PriceInput +
		float64(tokensOutput)/1000*price.PriceOutput
}

// CostSummary 成本汇总
type CostSummary struct {
	TotalCost       float64
	TotalTokens     int
	TokensInput     int
	TokensOutput    int
	RequestCount    int
	EstimatedCount  int
	AvgCostPerReq   float64
	AvgTokensPerReq float64
	ByModel         map[string]float64
}

// CostTracker 进程级成本累计
type CostTracker struct {
	calculator *CostCalculator

	mu      sync.Mutex
	summary CostSummary
}

// NewCostTracker calculator 为 nil 时使用默认价格表
func NewCostTracker(calculator *CostCalculator) *CostTracker {
	if calculator == nil {
		calculator = NewCostCalculator()
	}
	return &CostTracker{calculator: calculator}
}

// Calculator 返回底层计算器
func (t *CostTracker) Calculator() *CostCalculator {
	return t.calculator
}

// Track 累计一次请求并返回它的成本。estimated 表示 token 数来自本地估算。
func (t *CostTracker) Track(provider, model string, tokensInput, tokensOutput int, estimated bool) float64 {
	cost := t.calculator.Calculate(provider, model, tokensInput, tokensOutput)

	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.summary
	s.TotalCost += cost
	s.TokensInput += tokensInput
	s.TokensOutput += tokensOutput
	s.TotalTokens += tokensInput + tokensOutput
	s.RequestCount++
	if estimated {
		s.EstimatedCount++
	}
	if s.ByModel == nil {
		s.ByModel = make(map[string]float64)
	}
	s.ByModel[model] += cost

	s.AvgCostPerReq = s.TotalCost / float64(s.RequestCount)
	s.AvgTokensPerReq = float64(s.TotalTokens) / float64(s.RequestCount)

	return cost
}

// Summary 返回汇总快照
func (t *CostTracker) Summary() CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.summary
	if t.summary.ByModel != nil {
		out.ByModel = make(map[string]float64, len(t.summary.ByModel))
		for k, v := range t.summary.ByModel {
			out.ByModel[k] = v
		}
	}
	return out
}

// Reset 重置统计
func (t *CostTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary = CostSummary{}
}
