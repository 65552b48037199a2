package mail

// SampleMessages is the mailbox content created on first use.
func SampleMessages() []Message {
	return []Message{
		{
			ID:       "msg_001",
			From:     "prof.martin@university.fr",
			FromName: "Prof. Martin",
			Subject:  "Rappel rendu TP Agent Conversationnel",
			Date:     "2026-01-07 09:30",
			Body:     "Bonjour,\n\nJe vous rappelle que le rendu du TP sur les agents conversationnels est prévu pour vendredi 10 janvier à 23h59. N'oubliez pas d'inclure :\n- Le code source complet\n- Un fichier README avec les instructions d'installation\n- Un rapport de 2-3 pages expliquant votre architecture\n\nSi vous avez des questions, n'hésitez pas.\n\nCordialement,\nProf. Martin",
		},
		{
			ID:       "msg_002",
			From:     "scolarite@university.fr",
			FromName: "Service Scolarité",
			Subject:  "Planning des examens - Session janvier 2026",
			Date:     "2026-01-06 14:20",
			Body:     "Chers étudiants,\n\nVoici le planning des examens pour la session de janvier 2026 :\n\n- 15/01 : Intelligence Artificielle (9h-12h, Amphi A)\n- 17/01 : Bases de données avancées (14h-17h, Amphi B)\n- 20/01 : Systèmes distribués (9h-12h, Amphi A)\n\nMerci de vous présenter 15 minutes avant le début de l'épreuve avec votre carte d'étudiant.\n\nBonne chance à tous !",
		},
		{
			ID:       "msg_003",
			From:     "marie.dupont@gmail.com",
			FromName: "Marie",
			Subject:  "Re: Weekend prochain ?",
			Date:     "2026-01-05 18:45",
			Body:     "Salut !\n\nOui super idée pour samedi ! Je propose qu'on se retrouve vers 14h au parc pour faire un foot, et après on peut aller manger quelque chose en ville.\n\nTu peux demander à Thomas et Lucas s'ils sont dispos ?\n\nÀ samedi !\nMarie",
			Read:     true,
		},
		{
			ID:       "msg_004",
			From:     "newsletter@techcrunch.com",
			FromName: "TechCrunch",
			Subject:  "Les actus tech de la semaine",
			Date:     "2026-01-05 08:00",
			Body:     "Votre résumé tech hebdomadaire :\n\n- Apple annonce de nouvelles fonctionnalités IA pour Siri\n- Google dévoile sa nouvelle puce Tensor G5\n- Tesla bat des records de production au Q4 2025\n\nCliquez pour lire les articles complets...",
		},
		{
			ID:       "msg_005",
			From:     "security@amazon.fr",
			FromName: "Amazon Sécurité",
			Subject:  "Activité inhabituelle détectée sur votre compte",
			Date:     "2026-01-04 22:15",
			Body:     "Bonjour,\n\nNous avons détecté une tentative de connexion à votre compte depuis un nouvel appareil (iPhone, Paris).\n\nSi c'était vous, aucune action n'est nécessaire. Sinon, nous vous recommandons de :\n1. Changer immédiatement votre mot de passe\n2. Activer la vérification en deux étapes\n\nL'équipe Amazon",
			Read:     true,
		},
		{
			ID:       "msg_006",
			From:     "papa@gmail.com",
			FromName: "Papa",
			Subject:  "Anniversaire de Mamie - 25 janvier",
			Date:     "2026-01-03 19:30",
			Body:     "Salut,\n\nPetit rappel que l'anniversaire de Mamie est le 25 janvier. On organise une fête surprise chez elle à 15h.\n\nEst-ce que tu peux venir ? Et si oui, tu peux apporter le gâteau ? Mamie adore les fraisiers.\n\nTiens-moi au courant avant le 15 pour qu'on organise.\n\nBises,\nPapa",
		},
		{
			ID:       "msg_007",
			From:     "thomas.bernard@university.fr",
			FromName: "Thomas Bernard",
			Subject:  "Projet IA - Réunion mercredi ?",
			Date:     "2026-01-02 16:20",
			Body:     "Salut,\n\nJ'ai avancé sur la partie classification du projet d'IA. J'ai obtenu 94% de précision avec un ResNet50 pré-entraîné.\n\nOn peut se voir mercredi après-midi pour faire le point ? On peut commencer à rédiger le rapport si la partie NLP est terminée de ton côté.\n\nDis-moi si 14h te va ?\n\nThomas",
		},
		{
			ID:       "msg_008",
			From:     "noreply@laposte.fr",
			FromName: "La Poste",
			Subject:  "Votre colis arrive demain",
			Date:     "2026-01-02 11:45",
			Body:     "Bonjour,\n\nVotre colis n° 6Z89475329 sera livré demain (3 janvier) entre 9h et 13h.\n\nVous pouvez suivre votre livraison en temps réel via notre application mobile.\n\nSi vous êtes absent, le colis sera déposé en point relais.\n\nCordialement,\nLa Poste",
			Read:     true,
		},
	}
}
