package shared

// RoleGraphLockID is the advisory lock identifier guarding role hierarchy
// writes. The cycle check and the edge insert must observe the same graph, so
// every structural mutation takes this transaction-scoped lock first.
const RoleGraphLockID int64 = 0x524F4C4547524148
