// Package orchestrator — центральный координатор выполнения runs.
//
// Orchestrator получает события о новых runs из RabbitMQ (с polling
// fallback через БД), строит JobGraph из спецификации pipeline,
// создаёт job-инстансы (включая matrix fan-out) и отправляет готовые
// инстансы Worker'ам через очередь jobs.ready.
//
// На каждое событие завершения инстанса Orchestrator пересчитывает
// фронтир графа: вычисляет условия ставших готовыми инстансов,
// пропускает непроходящие (SKIPPED), отправляет остальные.
// Когда все инстансы терминальны, run финализируется:
//
//   - SUCCEEDED — ни один инстанс с условием, отличным от always(),
//     не упал;
//   - FAILED — упал хотя бы один такой инстанс;
//   - CANCELLED — run отменён до завершения.
//
// Состояние каждого активного run живёт в памяти (RunState) и
// восстанавливается из job_instances после рестарта.
package orchestrator
