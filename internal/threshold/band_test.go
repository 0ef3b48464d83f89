package threshold

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

func TestMatchSolanaDipping(t *testing.T) {
	bands, ok := DefaultTable().Bands("solana")
	if !ok {
		t.Fatal("solana 应有阈值配置")
	}

	matched := Match(decimal.NewFromInt(160), bands)
	if len(matched) != 1 {
		t.Fatalf("期望命中 1 个区间, 实际 %d", len(matched))
	}
	if matched[0].Label != "Dipping" {
		t.Fatalf("期望 Dipping, 实际 %s", matched[0].Label)
	}
	if !matched[0].Min.Equal(decimal.NewFromInt(150)) || !matched[0].Max.Equal(decimal.NewFromInt(170)) {
		t.Fatalf("区间边界不正确: %s", matched[0])
	}
}

func TestMatchSuiBoundary(t *testing.T) {
	bands, _ := DefaultTable().Bands("sui")

	matched := Match(decimal.RequireFromString("3.0"), bands)
	if len(matched) != 1 || matched[0].Label != "Interesting" {
		t.Fatalf("3.0 应只命中 Interesting, 实际 %v", matched)
	}
}

func TestMatchGapBetweenBands(t *testing.T) {
	bands, _ := DefaultTable().Bands("solana")
	if matched := Match(decimal.NewFromInt(140), bands); len(matched) != 0 {
		t.Fatalf("140 不在任何区间内, 实际 %v", matched)
	}
	if matched := Match(decimal.NewFromInt(50), bands); len(matched) != 0 {
		t.Fatalf("50 等于最低区间下限, 不应命中: %v", matched)
	}
}

func TestMatchOverlapReturnsAllInOrder(t *testing.T) {
	bands := []Band{
		band("10", "20", "wide"),
		band("15", "18", "narrow"),
		band("30", "40", "other"),
	}
	matched := Match(decimal.NewFromInt(16), bands)
	if len(matched) != 2 {
		t.Fatalf("重叠区间应全部命中, 实际 %v", matched)
	}
	if matched[0].Label != "wide" || matched[1].Label != "narrow" {
		t.Fatalf("命中顺序应与配置一致: %v", matched)
	}
}

func TestTableUnknownAsset(t *testing.T) {
	if _, ok := DefaultTable().Bands("ethereum"); ok {
		t.Fatal("ethereum 未配置")
	}
}

func TestTableAssetsSorted(t *testing.T) {
	assets := DefaultTable().Assets()
	if len(assets) != 2 || assets[0] != "solana" || assets[1] != "sui" {
		t.Fatalf("资产列表不正确: %v", assets)
	}
}

func TestTableValidate(t *testing.T) {
	if err := DefaultTable().Validate(); err != nil {
		t.Fatalf("默认配置应合法: %v", err)
	}
	bad := Table{"x": {band("5", "5", "flat")}}
	if err := bad.Validate(); err == nil {
		t.Fatal("min == max 应报错")
	}
}

func TestProperty_BandBoundaryLaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genBand := gopter.CombineGens(
		gen.Int64Range(1, 1_000_000),
		gen.Int64Range(1, 1_000_000),
	).Map(func(v []interface{}) Band {
		min := decimal.New(v[0].(int64), -2)
		return Band{Min: min, Max: min.Add(decimal.New(v[1].(int64), -2)), Label: "generated"}
	})

	properties.Property("price equal to min never matches", prop.ForAll(
		func(b Band) bool {
			return !b.Contains(b.Min)
		},
		genBand,
	))

	properties.Property("price equal to max always matches", prop.ForAll(
		func(b Band) bool {
			return b.Contains(b.Max)
		},
		genBand,
	))

	properties.Property("prices outside [min, max] never match", prop.ForAll(
		func(b Band, offset int64) bool {
			delta := decimal.New(offset, -4)
			return !b.Contains(b.Min.Sub(delta)) && !b.Contains(b.Max.Add(delta))
		},
		genBand,
		gen.Int64Range(1, 1_000_000),
	))

	properties.TestingRun(t)
}
