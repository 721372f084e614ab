package control

import logx "agendawatch/pkg/logx"

func logxNop() logx.Logger { return logx.Nop() }
