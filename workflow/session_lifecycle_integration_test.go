package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/models"
	"github.com/emberpeak/countflow_backend/snapshot"
	"github.com/emberpeak/countflow_backend/utils"
	"github.com/emberpeak/countflow_backend/workflow"
	"github.com/shopspring/decimal"
)

// Full lifecycle regression against real MySQL + Redis: generate is
// idempotent per store, submit finalizes blind counts, a repeated variance
// set resolves the recount loop and lands an outbox row.
func TestCountSessionLifecycle_GenerateSubmitRecount(t *testing.T) {
	ctx := setupIntegration(t)

	store := seedLifecycleFixtures(t, ctx)
	storeCtx := utils.SetPrincipalIdInContext(ctx, 1)
	storeCtx = utils.SetPrincipalRoleInContext(storeCtx, string(models.PrincipalRoleStore))
	storeCtx = utils.SetStoreIdInContext(storeCtx, store.ID)

	first, err := workflow.GenerateCountSession(storeCtx, store.ID, "Aye Chan")
	if err != nil {
		t.Fatalf("GenerateCountSession: %v", err)
	}
	if first.Status != models.SessionStatusDraft {
		t.Fatalf("new session status = %s, want DRAFT", first.Status)
	}
	if len(first.Lines) == 0 {
		t.Fatalf("generated session has no lines")
	}

	// A second generate while a draft is open returns the same session.
	again, err := workflow.GenerateCountSession(storeCtx, store.ID, "Somebody Else")
	if err != nil {
		t.Fatalf("second GenerateCountSession: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("generate is not idempotent: got session %d, want %d", again.ID, first.ID)
	}

	// Count every line two below expected so the variance set is non-empty
	// and reproducible.
	quantities := map[string]decimal.Decimal{}
	for _, line := range first.Lines {
		qty := line.ExpectedQty.Sub(decimal.NewFromInt(2))
		if qty.IsNegative() {
			qty = decimal.Zero
		}
		quantities[line.VariationId] = qty
	}

	draft, err := workflow.SaveDraft(storeCtx, first.ID, quantities)
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if draft.DraftSavedAt == nil {
		t.Fatalf("SaveDraft must return the session with draft_saved_at set")
	}

	submitted, _, outcome, err := workflow.SubmitSession(storeCtx, first.ID, quantities)
	if err != nil {
		t.Fatalf("SubmitSession: %v", err)
	}
	if submitted.Status != models.SessionStatusSubmitted {
		t.Fatalf("submitted status = %s, want SUBMITTED", submitted.Status)
	}
	if outcome.Stable {
		t.Fatalf("first variance round must open the loop, not resolve it")
	}
	if outcome.Rounds != 1 {
		t.Fatalf("first variance round count = %d, want 1", outcome.Rounds)
	}

	// Round two: same quantities, so the same variance signature. The loop
	// must close stable and confirm the counted quantities.
	second, err := workflow.GenerateCountSession(storeCtx, store.ID, "Aye Chan")
	if err != nil {
		t.Fatalf("recount GenerateCountSession: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("submit must free the store for a new session")
	}
	if !second.IncludesRecount {
		t.Fatalf("second session must carry the recount section")
	}

	secondQuantities := map[string]decimal.Decimal{}
	for _, line := range second.Lines {
		qty, ok := quantities[line.VariationId]
		if !ok {
			qty = line.ExpectedQty
		}
		secondQuantities[line.VariationId] = qty
	}
	_, _, outcome, err = workflow.SubmitSession(storeCtx, second.ID, secondQuantities)
	if err != nil {
		t.Fatalf("second SubmitSession: %v", err)
	}
	if !outcome.Stable || !outcome.Confirmed {
		t.Fatalf("repeated variance must resolve stable+confirmed, got %+v", outcome)
	}
	if outcome.Rounds != 2 {
		t.Fatalf("resolved round count = %d, want 2", outcome.Rounds)
	}

	db := config.GetDB()
	var outboxRows int64
	if err := db.WithContext(ctx).Model(&models.PubSubMessageRecord{}).Count(&outboxRows).Error; err != nil {
		t.Fatalf("count outbox rows: %v", err)
	}
	if outboxRows != 1 {
		t.Fatalf("confirmed inventory update must enqueue exactly 1 outbox row, got %d", outboxRows)
	}

	state, err := models.GetRecountState(db.WithContext(ctx), store.ID)
	if err != nil {
		t.Fatalf("GetRecountState: %v", err)
	}
	if state == nil || state.IsActive == nil || *state.IsActive {
		t.Fatalf("resolved recount state must be inactive, got %+v", state)
	}
	items, err := models.GetRecountItems(db.WithContext(ctx), store.ID)
	if err != nil {
		t.Fatalf("GetRecountItems: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("resolved loop must clear carried items, got %d", len(items))
	}
}

// A pending forced count overrides the rotation pointer for exactly one
// generation, is consumed by it, and leaves the pointer where it was.
func TestForcedCount_WinsOverRotationPointer(t *testing.T) {
	ctx := setupIntegration(t)

	store, pointerGroup, forcedGroup := seedTwoGroupFixtures(t, ctx)
	storeCtx := utils.SetPrincipalIdInContext(ctx, 1)
	storeCtx = utils.SetPrincipalRoleInContext(storeCtx, string(models.PrincipalRoleStore))
	storeCtx = utils.SetStoreIdInContext(storeCtx, store.ID)

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(&models.StoreRotationState{StoreId: store.ID, NextGroupId: &pointerGroup.ID}).Error; err != nil {
		t.Fatalf("seed rotation pointer: %v", err)
	}
	forced := models.StoreForcedCount{
		StoreId:      store.ID,
		CountGroupId: forcedGroup.ID,
		Reason:       "spot check after delivery",
		IsActive:     utils.NewTrue(),
		CreatedBy:    9,
	}
	if err := db.WithContext(ctx).Create(&forced).Error; err != nil {
		t.Fatalf("seed forced count: %v", err)
	}

	session, err := workflow.GenerateCountSession(storeCtx, store.ID, "Aye Chan")
	if err != nil {
		t.Fatalf("GenerateCountSession: %v", err)
	}
	if session.CountGroupId == nil || *session.CountGroupId != forcedGroup.ID {
		t.Fatalf("forced generation group = %v, want %d", session.CountGroupId, forcedGroup.ID)
	}
	if session.ForcedCountId == nil || *session.ForcedCountId != forced.ID {
		t.Fatalf("session must reference the consumed forced count, got %v", session.ForcedCountId)
	}

	var consumed models.StoreForcedCount
	if err := db.WithContext(ctx).First(&consumed, forced.ID).Error; err != nil {
		t.Fatalf("reload forced count: %v", err)
	}
	if consumed.ConsumedAt == nil || consumed.SessionId == nil || *consumed.SessionId != session.ID {
		t.Fatalf("forced count not consumed by session %d: %+v", session.ID, consumed)
	}
	if consumed.IsActive == nil || *consumed.IsActive {
		t.Fatalf("consumed forced count must be inactive")
	}

	state, err := models.GetRotationState(db.WithContext(ctx), store.ID)
	if err != nil {
		t.Fatalf("GetRotationState: %v", err)
	}
	if state == nil || state.NextGroupId == nil || *state.NextGroupId != pointerGroup.ID {
		t.Fatalf("forced generation must leave the rotation pointer untouched, got %+v", state)
	}

	// Counting exactly the expected quantities yields no variance, so the
	// store is free for a normal turn right away.
	exact := map[string]decimal.Decimal{}
	for _, line := range session.Lines {
		exact[line.VariationId] = line.ExpectedQty
	}
	if _, _, _, err := workflow.SubmitSession(storeCtx, session.ID, exact); err != nil {
		t.Fatalf("SubmitSession: %v", err)
	}

	recount, err := models.GetRecountState(db.WithContext(ctx), store.ID)
	if err != nil {
		t.Fatalf("GetRecountState: %v", err)
	}
	if recount == nil || recount.IsActive == nil || *recount.IsActive || recount.Rounds != 0 {
		t.Fatalf("clean submit must resolve the recount loop, got %+v", recount)
	}
	if recount.LastSessionId == nil || *recount.LastSessionId != session.ID {
		t.Fatalf("recount state must record the resolving session, got %+v", recount)
	}

	next, err := workflow.GenerateCountSession(storeCtx, store.ID, "Aye Chan")
	if err != nil {
		t.Fatalf("normal GenerateCountSession: %v", err)
	}
	if next.CountGroupId == nil || *next.CountGroupId != pointerGroup.ID {
		t.Fatalf("normal turn group = %v, want pointer group %d", next.CountGroupId, pointerGroup.ID)
	}
	if next.ForcedCountId != nil {
		t.Fatalf("consumed forced count must not apply twice")
	}
}

// outageProvider lists items normally but fails every on-hand fetch, so a
// submit dies in the middle of its transaction.
type outageProvider struct {
	inner snapshot.Provider
}

func (p outageProvider) ListCountItems(ctx context.Context, storeId int, campaignId int) ([]snapshot.CountItem, error) {
	return p.inner.ListCountItems(ctx, storeId, campaignId)
}

func (p outageProvider) FetchCurrentOnHand(ctx context.Context, storeId int, variationIds []string) (map[string]decimal.Decimal, error) {
	return nil, fmt.Errorf("fetch current on hand: %w", utils.ErrorUpstreamUnavailable)
}

// A failed on-hand fetch mid-submit rolls the whole submit back: the
// session stays an open draft and no recount, audit or outbox rows land.
// The retried submit then applies the uncounted-as-zero policy verbatim.
func TestSubmitSession_ProviderOutageRollsBack(t *testing.T) {
	ctx := setupIntegration(t)

	store := seedLifecycleFixtures(t, ctx)
	storeCtx := utils.SetPrincipalIdInContext(ctx, 1)
	storeCtx = utils.SetPrincipalRoleInContext(storeCtx, string(models.PrincipalRoleStore))
	storeCtx = utils.SetStoreIdInContext(storeCtx, store.ID)

	session, err := workflow.GenerateCountSession(storeCtx, store.ID, "Aye Chan")
	if err != nil {
		t.Fatalf("GenerateCountSession: %v", err)
	}
	if len(session.Lines) < 2 {
		t.Fatalf("need at least 2 lines, got %d", len(session.Lines))
	}

	// Count everything except the last line; it exercises the missing-entry
	// policy on the successful retry below.
	uncounted := session.Lines[len(session.Lines)-1]
	quantities := map[string]decimal.Decimal{}
	for _, line := range session.Lines[:len(session.Lines)-1] {
		quantities[line.VariationId] = line.ExpectedQty
	}

	snapshot.SetProvider(outageProvider{inner: snapshot.NewMockProvider()})
	defer snapshot.SetProvider(snapshot.NewMockProvider())

	if _, _, _, err := workflow.SubmitSession(storeCtx, session.ID, quantities); !errors.Is(err, utils.ErrorUpstreamUnavailable) {
		t.Fatalf("submit during outage err = %v, want ErrorUpstreamUnavailable", err)
	}

	db := config.GetDB()
	reloaded, err := models.GetCountSession(db.WithContext(ctx), session.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.Status != models.SessionStatusDraft || reloaded.DraftGuard == nil {
		t.Fatalf("failed submit must leave the session an open draft, got %+v", reloaded)
	}
	if reloaded.SubmittedAt != nil || reloaded.VarianceSignature != "" {
		t.Fatalf("failed submit must not record submission metadata")
	}
	state, err := models.GetRecountState(db.WithContext(ctx), store.ID)
	if err != nil {
		t.Fatalf("GetRecountState: %v", err)
	}
	if state != nil {
		t.Fatalf("failed submit must not touch recount state, got %+v", state)
	}
	var submittedAudits int64
	if err := db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("action = ?", models.AuditActionSessionSubmitted).
		Count(&submittedAudits).Error; err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	if submittedAudits != 0 {
		t.Fatalf("failed submit must not write an audit row, got %d", submittedAudits)
	}
	var outboxRows int64
	if err := db.WithContext(ctx).Model(&models.PubSubMessageRecord{}).Count(&outboxRows).Error; err != nil {
		t.Fatalf("count outbox rows: %v", err)
	}
	if outboxRows != 0 {
		t.Fatalf("failed submit must not enqueue outbox rows, got %d", outboxRows)
	}

	snapshot.SetProvider(snapshot.NewMockProvider())
	_, rows, _, err := workflow.SubmitSession(storeCtx, session.ID, quantities)
	if err != nil {
		t.Fatalf("retried SubmitSession: %v", err)
	}
	found := false
	for _, row := range rows {
		if row.VariationId != uncounted.VariationId {
			continue
		}
		found = true
		if !row.CountedQty.IsZero() {
			t.Fatalf("uncounted line counted_qty = %s, want 0", row.CountedQty)
		}
		if !row.Variance.Equal(row.ExpectedQty.Neg()) {
			t.Fatalf("uncounted line variance = %s, want -%s", row.Variance, row.ExpectedQty)
		}
		if row.ExpectedQty.IsZero() {
			t.Fatalf("fixture expected_qty must be non-zero for this check")
		}
	}
	if !found {
		t.Fatalf("uncounted line %s missing from variance rows", uncounted.VariationId)
	}
}

func setupIntegration(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "countflow_test")
	t.Setenv("SNAPSHOT_PROVIDER", "mock")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	return context.Background()
}

func seedLifecycleFixtures(t *testing.T, ctx context.Context) *models.Store {
	t.Helper()
	db := config.GetDB()

	store := models.Store{Name: "Downtown", PosLocationId: "LOC-TEST-001", IsActive: utils.NewTrue()}
	if err := db.WithContext(ctx).Create(&store).Error; err != nil {
		t.Fatalf("create store: %v", err)
	}

	campaign := models.Campaign{Label: "Latte rotation", CategoryFilter: "Latte rotation", IsActive: utils.NewTrue()}
	if err := db.WithContext(ctx).Create(&campaign).Error; err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	group := models.CountGroup{Name: "Latte", Position: 0, IsActive: utils.NewTrue()}
	if err := db.WithContext(ctx).Create(&group).Error; err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := db.WithContext(ctx).Create(&models.CountGroupCampaign{GroupId: group.ID, CampaignId: campaign.ID}).Error; err != nil {
		t.Fatalf("map campaign to group: %v", err)
	}

	return &store
}

func seedTwoGroupFixtures(t *testing.T, ctx context.Context) (*models.Store, *models.CountGroup, *models.CountGroup) {
	t.Helper()
	db := config.GetDB()

	store := models.Store{Name: "Riverside", PosLocationId: "LOC-TEST-002", IsActive: utils.NewTrue()}
	if err := db.WithContext(ctx).Create(&store).Error; err != nil {
		t.Fatalf("create store: %v", err)
	}

	groups := make([]*models.CountGroup, 0, 2)
	for i, name := range []string{"Latte", "Pastry"} {
		campaign := models.Campaign{Label: name + " rotation", CategoryFilter: name + " rotation", IsActive: utils.NewTrue()}
		if err := db.WithContext(ctx).Create(&campaign).Error; err != nil {
			t.Fatalf("create campaign: %v", err)
		}
		group := models.CountGroup{Name: name, Position: i, IsActive: utils.NewTrue()}
		if err := db.WithContext(ctx).Create(&group).Error; err != nil {
			t.Fatalf("create group: %v", err)
		}
		if err := db.WithContext(ctx).Create(&models.CountGroupCampaign{GroupId: group.ID, CampaignId: campaign.ID}).Error; err != nil {
			t.Fatalf("map campaign to group: %v", err)
		}
		groups = append(groups, &group)
	}
	return &store, groups[0], groups[1]
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("countflow-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("countflow-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=countflow_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
