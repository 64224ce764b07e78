package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"d2dtreasury/core/types"
	"d2dtreasury/native/deploy"
	"d2dtreasury/native/treasury"
	"d2dtreasury/storage"
)

func testAddr(b byte) [20]byte {
	var a [20]byte
	a[0] = b
	return a
}

func testHash(b byte) [32]byte {
	var h [32]byte
	h[0] = b
	return h
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db)
}

func TestLedgerPersistence(t *testing.T) {
	manager := newTestManager(t)

	_, ok := manager.TreasuryGet()
	require.False(t, ok)

	ledger := treasury.NewLedger(testAddr(0xA1), testAddr(0xA2))
	ledger.TotalDeposited = big.NewInt(1_000_000)
	ledger.LiquidBalance = big.NewInt(400_000)
	ledger.RewardPerShare = big.NewInt(10_000_000_000)
	ledger.EmergencyPause = true
	require.NoError(t, manager.TreasuryPut(ledger))

	loaded, ok := manager.TreasuryGet()
	require.True(t, ok)
	require.Equal(t, ledger.TotalDeposited, loaded.TotalDeposited)
	require.Equal(t, ledger.LiquidBalance, loaded.LiquidBalance)
	require.Equal(t, ledger.RewardPerShare, loaded.RewardPerShare)
	require.Equal(t, ledger.Admin, loaded.Admin)
	require.True(t, loaded.EmergencyPause)
}

func TestLedgerPutRejectsCorruptRecord(t *testing.T) {
	manager := newTestManager(t)
	ledger := treasury.NewLedger(testAddr(0xA1), testAddr(0xA2))
	ledger.LiquidBalance = big.NewInt(-5)
	require.Error(t, manager.TreasuryPut(ledger))
}

func TestPositionPersistence(t *testing.T) {
	manager := newTestManager(t)
	owner := testAddr(0xB1)

	_, ok := manager.PositionGet(owner)
	require.False(t, ok)

	position := treasury.NewPosition(owner)
	position.DepositedAmount = big.NewInt(123_456)
	position.RewardDebt = new(big.Int).Mul(big.NewInt(123_456), big.NewInt(7))
	require.NoError(t, manager.PositionPut(position))

	loaded, ok := manager.PositionGet(owner)
	require.True(t, ok)
	require.Equal(t, position.DepositedAmount, loaded.DepositedAmount)
	require.Equal(t, position.RewardDebt, loaded.RewardDebt)
	require.True(t, loaded.Active)
}

func TestDeployRequestPersistence(t *testing.T) {
	manager := newTestManager(t)
	hash := testHash(0xC1)

	request := &deploy.Request{
		RequestID:             hash,
		Developer:             testAddr(0xE1),
		ProgramHash:           hash,
		ServiceFee:            big.NewInt(100_000),
		MonthlyFee:            big.NewInt(10_000),
		DeploymentCost:        big.NewInt(50_000_000),
		BorrowedAmount:        big.NewInt(0),
		InitialMonths:         3,
		SubscriptionPaidUntil: 1_700_000_000,
		EphemeralKey:          deploy.AssignKey(testAddr(0x05)),
		Status:                deploy.StatusPendingDeployment,
		CreatedAt:             1_699_000_000,
	}
	require.NoError(t, manager.DeployRequestPut(request))

	loaded, ok := manager.DeployRequestGet(hash)
	require.True(t, ok)
	require.Equal(t, request.Developer, loaded.Developer)
	require.Equal(t, request.ServiceFee, loaded.ServiceFee)
	require.Equal(t, deploy.StatusPendingDeployment, loaded.Status)
	escrow, assigned := loaded.EphemeralKey.Get()
	require.True(t, assigned)
	require.Equal(t, testAddr(0x05), escrow)
	_, assigned = loaded.DeployedProgramID.Get()
	require.False(t, assigned)
}

func TestUserStatsPersistence(t *testing.T) {
	manager := newTestManager(t)
	owner := testAddr(0xE1)

	stats := deploy.NewUserStats(owner, 1_700_000_000)
	require.NoError(t, stats.RecordDeploy(1_700_000_000))
	require.NoError(t, manager.UserStatsPut(stats))

	loaded, ok := manager.UserStatsGet(owner)
	require.True(t, ok)
	require.Equal(t, uint32(1), loaded.ActiveSessions)
	require.Equal(t, uint32(1), loaded.DailyDeploys)
	require.Equal(t, uint64(1), loaded.TotalDeploys)
}

func TestAccountDefaultsToEmpty(t *testing.T) {
	manager := newTestManager(t)

	account, err := manager.GetAccount(testAddr(0x01))
	require.NoError(t, err)
	require.Zero(t, account.Balance.Sign())

	account.Balance = big.NewInt(42)
	account.Nonce = 7
	require.NoError(t, manager.PutAccount(testAddr(0x01), account))

	loaded, err := manager.GetAccount(testAddr(0x01))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), loaded.Balance)
	require.Equal(t, uint64(7), loaded.Nonce)
}

func TestManagerDrivesBothEngines(t *testing.T) {
	manager := newTestManager(t)
	admin := testAddr(0xA1)
	backer := testAddr(0xB1)

	tEngine := treasury.NewEngine()
	tEngine.SetState(manager)
	tEngine.SetVaults(testAddr(0x01), testAddr(0x02), testAddr(0x03))
	_, err := tEngine.Initialize(admin, testAddr(0xA2))
	require.NoError(t, err)

	require.NoError(t, manager.PutAccount(backer, &types.Account{Balance: big.NewInt(1_000_000)}))
	_, err = tEngine.Deposit(backer, big.NewInt(1_000_000))
	require.NoError(t, err)

	dEngine := deploy.NewEngine()
	dEngine.SetState(manager)
	dEngine.SetVaults(testAddr(0x01), testAddr(0x02), testAddr(0x03))
	developer := testAddr(0xE1)
	require.NoError(t, manager.PutAccount(developer, &types.Account{Balance: big.NewInt(1_000_000)}))

	request, err := dEngine.CreateRequest(admin, developer, testHash(0xC1),
		big.NewInt(100_000), big.NewInt(10_000), 3, big.NewInt(500_000))
	require.NoError(t, err)
	require.Equal(t, deploy.StatusPendingDeployment, request.Status)

	// The fee credit booked by the deploy engine is claimable by the backer
	// through the treasury engine.
	pending, err := tEngine.PendingRewards(backer)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(130_000), pending)
}
