package resolve

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/ginkii/store-report-system-sub000/internal/model"
	"github.com/ginkii/store-report-system-sub000/internal/store"
)

// DefaultRegion 新建门店的默认区域
const DefaultRegion = "未分类"

// Resolver 把 sheet 名解析成门店档案，报表上传和权限上传共用同一实例，
// 保证同一名称收敛到同一门店
type Resolver struct {
	store    store.Store
	prefixes []string
	suffixes []string
	logger   *slog.Logger
	now      func() time.Time
}

// New 创建解析器，prefixes/suffixes 为归一化时要剔除的品牌前缀和门店后缀
func New(st store.Store, prefixes, suffixes []string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    st,
		prefixes: prefixes,
		suffixes: suffixes,
		logger:   logger,
		now:      time.Now,
	}
}

// Normalize 归一化门店名：剔除品牌前缀、门店后缀、括号和所有空白
// 前缀先于后缀剔除，均为全量替换而非只去头尾
func (r *Resolver) Normalize(name string) string {
	name = strings.TrimSpace(name)
	for _, p := range r.prefixes {
		name = strings.ReplaceAll(name, p, "")
	}
	for _, s := range r.suffixes {
		name = strings.ReplaceAll(name, s, "")
	}
	name = strings.NewReplacer("(", "", ")", "", "（", "", "）", "").Replace(name)
	return strings.Map(func(c rune) rune {
		if unicode.IsSpace(c) {
			return -1
		}
		return c
	}, name)
}

// Resolve 按原始名查找门店，找不到则创建
// 返回的 created 标记本次调用是否新建了档案
// 查找顺序：规范名精确匹配 → 归一化名子串匹配规范名 → 短码 → 别名
func (r *Resolver) Resolve(ctx context.Context, rawName string) (*model.StoreIdentity, bool, error) {
	raw := strings.TrimSpace(rawName)
	if raw == "" {
		return nil, false, fmt.Errorf("store name is empty")
	}

	st, err := r.store.FindStoreByName(ctx, raw)
	if err == nil {
		return st, false, nil
	}
	if !errors.Is(err, store.ErrStoreNotFound) {
		return nil, false, fmt.Errorf("failed to find store by name: %w", err)
	}

	normalized := r.Normalize(raw)

	stores, err := r.store.ListStores(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list stores: %w", err)
	}

	// 归一化名为空时跳过子串匹配，空串会匹配到任意门店
	if normalized != "" {
		lower := strings.ToLower(normalized)
		for _, candidate := range stores {
			if strings.Contains(strings.ToLower(candidate.CanonicalName), lower) {
				return r.recordAlias(ctx, candidate, raw)
			}
		}
		for _, candidate := range stores {
			if strings.Contains(strings.ToLower(candidate.ShortCode), lower) {
				return r.recordAlias(ctx, candidate, raw)
			}
		}
	}

	for _, candidate := range stores {
		if candidate.HasAlias(raw) || (normalized != "" && candidate.HasAlias(normalized)) {
			return r.recordAlias(ctx, candidate, raw)
		}
	}

	created, err := r.create(ctx, raw, normalized, stores)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// recordAlias 命中非精确匹配时把原始名记为别名，下次直接命中
func (r *Resolver) recordAlias(ctx context.Context, st *model.StoreIdentity, raw string) (*model.StoreIdentity, bool, error) {
	if st.HasAlias(raw) {
		return st, false, nil
	}
	st.AddAlias(raw)
	st.UpdatedAt = r.now()
	if err := r.store.SaveStore(ctx, st); err != nil {
		return nil, false, fmt.Errorf("failed to record alias: %w", err)
	}
	return st, false, nil
}

func (r *Resolver) create(ctx context.Context, raw, normalized string, existing []*model.StoreIdentity) (*model.StoreIdentity, error) {
	now := r.now()
	st := &model.StoreIdentity{
		ID:            uuid.NewString(),
		CanonicalName: raw,
		ShortCode:     r.mintShortCode(normalized, existing),
		Region:        DefaultRegion,
		Status:        model.StoreActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	st.AddAlias(normalized)

	if err := r.store.SaveStore(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	r.logger.Info("已自动创建门店档案",
		"name", raw,
		"shortCode", st.ShortCode,
		"region", st.Region)
	return st, nil
}

// mintShortCode 由归一化名派生确定性短码，与存量短码冲突时退化为时间戳码
func (r *Resolver) mintShortCode(normalized string, existing []*model.StoreIdentity) string {
	sum := md5.Sum([]byte(normalized))
	code := "AUTO_" + strings.ToUpper(hex.EncodeToString(sum[:]))[:6]
	for _, st := range existing {
		if st.ShortCode == code {
			return fmt.Sprintf("AUTO_%05d", r.now().Unix()%100000)
		}
	}
	return code
}
