package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// placeholderCategory matches catch-all categories products land in when
// their real category was unknown at import time
var placeholderCategory = regexp.MustCompile(`(?i)(^|[-\s/])(unknown|uncategori[sz]ed|no-category)($|[-\s])`)

// ImportCategories builds the store tree from staged category paths. With no
// ids every active staged category is considered; entries already mapped to
// an existing category are skipped, stale mappings are rebuilt. Products left
// without a real category are repaired afterwards.
func (s *Service) ImportCategories(ctx context.Context, ids []int64) (*models.ImportResult, error) {
	db := s.db.WithContext(ctx)
	res := &models.ImportResult{}

	q := db.Where("is_active = ?", true)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	var staged []models.StagingCategory
	if err := q.Order("id").Find(&staged).Error; err != nil {
		return nil, fmt.Errorf("load staged categories: %w", err)
	}

	r := newRun()
	for i := range staged {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sc := &staged[i]

		if sc.StoreCategoryID != nil {
			ok, err := exists(db, &models.Category{}, *sc.StoreCategoryID)
			if err != nil {
				return res, err
			}
			if ok {
				res.Skipped++
				continue
			}
			s.log.Info("clearing stale category mapping",
				zap.Int64("odoo_id", sc.ID), zap.String("store_id", sc.StoreCategoryID.String()))
			sc.StoreCategoryID = nil
		}

		_, created, err := s.ensureCategoryPath(db, r, sc)
		if err != nil {
			res.Fail(sc.ID, err)
			if markErr := markStaged(db, &models.StagingCategory{}, sc.ID, models.StagingFailed, err,
				map[string]interface{}{"store_category_id": nil}); markErr != nil {
				return res, markErr
			}
			continue
		}
		res.Imported++
		res.Created += created
	}

	repaired, err := s.ReconcileProductCategories(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile product categories: %w", err)
	}
	res.Repaired = repaired

	s.log.Info("categories imported",
		zap.Int("imported", res.Imported),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
		zap.Int("repaired", res.Repaired),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// categorySegments splits an Odoo path such as "All / Grocery / Juices"
func categorySegments(sc *models.StagingCategory) []string {
	path := sc.CompleteName.String()
	if path == "" {
		path = sc.Name.String()
	}
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// ensureCategoryPath finds or creates every node of the staged path top-down,
// links the leaf to the staged row and returns it with the number of nodes created.
func (s *Service) ensureCategoryPath(db *gorm.DB, r *run, sc *models.StagingCategory) (uuid.UUID, int, error) {
	segments := categorySegments(sc)
	if len(segments) == 0 {
		return uuid.Nil, 0, ErrNoCategoryPath
	}

	var (
		parent  *uuid.UUID
		prefix  string
		created int
		leaf    models.Category
	)
	for i, seg := range segments {
		name, err := models.NewLocalizedText(SplitBilingualName(seg))
		if err != nil {
			return uuid.Nil, created, fmt.Errorf("segment %q: %w", seg, err)
		}
		part := Slugify(name.Display())
		if part == "" {
			part = Slugify(seg)
		}
		if part == "" {
			return uuid.Nil, created, fmt.Errorf("segment %q: %w", seg, ErrNoCategoryPath)
		}
		slug := part
		if prefix != "" {
			slug = prefix + "-" + part
		}

		key := pathKey{slug: slug}
		if parent != nil {
			key.parent = *parent
		}
		isLeaf := i == len(segments)-1
		if id, ok := r.categories[key]; ok && !isLeaf {
			parent, prefix = &id, slug
			continue
		}

		cat, wasCreated, err := findOrCreateCategory(db, name, slug, parent)
		if err != nil {
			return uuid.Nil, created, fmt.Errorf("segment %q: %w", seg, err)
		}
		if wasCreated {
			created++
		}
		r.categories[key] = cat.ID
		id := cat.ID
		parent, prefix, leaf = &id, slug, cat
	}

	odooID := sc.ID
	if leaf.OdooCategoryID == nil {
		if err := db.Model(&models.Category{}).Where("id = ?", leaf.ID).
			UpdateColumn("odoo_category_id", odooID).Error; err != nil {
			return uuid.Nil, created, err
		}
	}
	err := markStaged(db, &models.StagingCategory{}, sc.ID, models.StagingImported, nil,
		map[string]interface{}{"store_category_id": leaf.ID})
	if err != nil {
		return uuid.Nil, created, err
	}
	sc.StoreCategoryID = &leaf.ID
	return leaf.ID, created, nil
}

// findOrCreateCategory resolves a node by slug. A slug taken under another
// parent gets a numeric suffix; a concurrent insert is re-read.
func findOrCreateCategory(db *gorm.DB, name models.LocalizedText, slug string, parent *uuid.UUID) (models.Category, bool, error) {
	for n := 1; n <= 10; n++ {
		candidate := slug
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d", slug, n)
		}

		var existing models.Category
		err := db.Where("slug = ?", candidate).First(&existing).Error
		if err == nil {
			if sameParent(existing.ParentID, parent) {
				return existing, false, nil
			}
			continue
		}
		if !notFound(err) {
			return models.Category{}, false, err
		}

		cat := models.Category{Name: name, Slug: candidate, ParentID: parent, IsActive: true}
		err = db.Create(&cat).Error
		if err == nil {
			return cat, true, nil
		}
		if !database.IsDuplicateKey(err) {
			return models.Category{}, false, err
		}
		if err := db.Where("slug = ?", candidate).First(&existing).Error; err == nil && sameParent(existing.ParentID, parent) {
			return existing, false, nil
		}
	}
	return models.Category{}, false, fmt.Errorf("no free slug for %q", slug)
}

func sameParent(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ReconcileProductCategories repairs products whose category is missing,
// stale or a placeholder. The staged product found through the Odoo id, or
// failing that by barcode or SKU, provides the category mapping.
func (s *Service) ReconcileProductCategories(ctx context.Context) (int, error) {
	db := s.db.WithContext(ctx)

	var candidates []models.Category
	err := db.Where("LOWER(name_en) LIKE ? OR LOWER(name_en) LIKE ? OR slug LIKE ? OR slug LIKE ?",
		"%unknown%", "%uncategor%", "%unknown%", "%uncategor%").Find(&candidates).Error
	if err != nil {
		return 0, err
	}
	placeholders := make([]uuid.UUID, 0, len(candidates))
	for _, c := range candidates {
		if placeholderCategory.MatchString(c.Name.En) || placeholderCategory.MatchString(c.Slug) {
			placeholders = append(placeholders, c.ID)
		}
	}

	q := db.Where("category_id IS NULL OR category_id NOT IN (?)", db.Model(&models.Category{}).Select("id"))
	if len(placeholders) > 0 {
		q = q.Or("category_id IN ?", placeholders)
	}
	var products []models.Product
	if err := q.Find(&products).Error; err != nil {
		return 0, err
	}

	repaired := 0
	for _, p := range products {
		staged, err := s.stagedProductFor(db, &p)
		if err != nil {
			return repaired, err
		}
		if staged == nil || !staged.CategoryID.Valid() {
			continue
		}

		var sc models.StagingCategory
		if err := db.First(&sc, staged.CategoryID.ID).Error; err != nil {
			if notFound(err) {
				continue
			}
			return repaired, err
		}
		if sc.StoreCategoryID == nil {
			continue
		}
		ok, err := exists(db, &models.Category{}, *sc.StoreCategoryID)
		if err != nil {
			return repaired, err
		}
		if !ok || (p.CategoryID != nil && *p.CategoryID == *sc.StoreCategoryID) {
			continue
		}

		if err := db.Model(&models.Product{}).Where("id = ?", p.ID).
			UpdateColumn("category_id", *sc.StoreCategoryID).Error; err != nil {
			return repaired, err
		}
		repaired++
		s.log.Debug("product category repaired",
			zap.String("product_id", p.ID.String()), zap.Int64("odoo_category_id", sc.ID))
	}
	return repaired, nil
}

// stagedProductFor finds the staged source of a store product
func (s *Service) stagedProductFor(db *gorm.DB, p *models.Product) (*models.StagingProduct, error) {
	var staged models.StagingProduct
	if p.OdooProductID != nil {
		err := db.First(&staged, *p.OdooProductID).Error
		if err == nil {
			return &staged, nil
		}
		if !notFound(err) {
			return nil, err
		}
	}
	for _, match := range []struct{ column, value string }{
		{"barcode", p.Barcode},
		{"default_code", p.SKU},
	} {
		if match.value == "" {
			continue
		}
		err := db.Where(match.column+" = ?", match.value).Order("id").First(&staged).Error
		if err == nil {
			return &staged, nil
		}
		if !notFound(err) {
			return nil, err
		}
	}
	return nil, nil
}
