package keeper

import "time"

// SetClock reemplaza el reloj local del keeper en los tests.
func (k *Keeper) SetClock(now func() time.Time) { k.now = now }
